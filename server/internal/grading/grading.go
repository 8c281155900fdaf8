// Package grading 模拟考：抽题与按答案键判分。
package grading

import (
	"math"

	"skytrail/server/internal/model"
	"skytrail/server/internal/rng"
)

const (
	// PassScore 及格线（百分制）。
	PassScore = 90
	// SimSize 一套模拟考的题量。
	SimSize = 50
)

// AnswerKey 题目 id -> 正确选项（1..4），构建后只读。
type AnswerKey map[string]int

func NewAnswerKey(questions []model.QuestionRecord) AnswerKey {
	key := make(AnswerKey, len(questions))
	for _, q := range questions {
		key[q.ID] = q.CorrectOption
	}
	return key
}

// Grade 纯查表判分。未知 id 判错，correctOption 为 0。
func Grade(key AnswerKey, req model.SimRequest) model.SimResult {
	res := model.SimResult{Total: len(req.Responses), Results: make([]model.SimResultItem, 0, len(req.Responses))}
	for _, a := range req.Responses {
		correct, ok := key[a.QuestionID]
		item := model.SimResultItem{
			QuestionID:     a.QuestionID,
			SelectedOption: a.SelectedOption,
			CorrectOption:  correct,
			IsCorrect:      ok && a.SelectedOption == correct,
		}
		if item.IsCorrect {
			res.Correct++
		}
		res.Results = append(res.Results, item)
	}
	if res.Total > 0 {
		res.Score = int(math.Round(float64(res.Correct) / float64(res.Total) * 100))
	}
	res.Passed = res.Score >= PassScore
	return res
}

// Draw 不重复地随机抽 n 道题；题库不足 n 道时全部打乱返回。
func Draw(questions []model.QuestionRecord, n int, r rng.Source) []model.QuestionRecord {
	pool := make([]model.QuestionRecord, len(questions))
	copy(pool, questions)
	rng.Shuffle(r, pool)
	if n > 0 && n < len(pool) {
		pool = pool[:n]
	}
	return pool
}
