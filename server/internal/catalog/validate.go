package catalog

import (
	"fmt"
	"sort"
	"strings"

	"skytrail/server/internal/domain"
	"skytrail/server/internal/model"
)

// IntegrityError 数据完整性缺陷。出现即视为致命，服务不应启动。
type IntegrityError struct {
	Problems []string
}

func (e *IntegrityError) Error() string {
	if len(e.Problems) == 1 {
		return "catalog integrity: " + e.Problems[0]
	}
	return fmt.Sprintf("catalog integrity: %d problems: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

// Validate 校验整个题库以及静态表对题库的所有引用。
// 返回 nil 或 *IntegrityError。
func Validate(questions []model.QuestionRecord, lib *domain.Library) error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		if known[q.ID] {
			add("duplicate question id %s", q.ID)
		}
		known[q.ID] = true

		if len(q.Options) != 4 {
			add("question %s: expected 4 options, got %d", q.ID, len(q.Options))
		}
		if q.CorrectOption < 1 || q.CorrectOption > 4 {
			add("question %s: missing answer key", q.ID)
		}
		if !q.Phase.Valid() {
			add("question %s: unknown phase %q", q.ID, q.Phase)
		}
		if q.RiskPoints < 1 || q.RiskPoints > model.MaxRisk {
			add("question %s: risk points %d out of range", q.ID, q.RiskPoints)
		}
		if len(q.References) == 0 {
			add("question %s: no references", q.ID)
		}
	}

	if lib != nil {
		bonus := map[string]bool{}
		for _, b := range lib.Bonus {
			if known[b.ID] {
				add("bonus card %s collides with a catalog id", b.ID)
			}
			bonus[b.ID] = true
		}

		for _, e := range lib.Emergencies {
			for _, id := range e.QuestionPool {
				if !known[id] {
					add("emergency %s: dangling question %s", e.ID, id)
				}
			}
			for _, id := range e.BonusPool {
				if !bonus[id] {
					add("emergency %s: dangling bonus card %s", e.ID, id)
				}
			}
		}

		signals := make([]string, 0, len(lib.WeatherBias))
		for s := range lib.WeatherBias {
			signals = append(signals, s)
		}
		sort.Strings(signals)
		for _, s := range signals {
			for _, p := range model.Phases {
				for _, id := range lib.WeatherBias[s][p] {
					if !known[id] {
						add("weather bias %s/%s: dangling question %s", s, p, id)
					}
				}
			}
		}

		scenarioIDs := make([]string, 0, len(lib.Scenarios))
		for id := range lib.Scenarios {
			scenarioIDs = append(scenarioIDs, id)
		}
		sort.Strings(scenarioIDs)
		for _, id := range scenarioIDs {
			if !known[id] && !bonus[id] {
				add("scenario overlay %s: dangling question", id)
			}
		}
	}

	if len(problems) > 0 {
		return &IntegrityError{Problems: problems}
	}
	return nil
}
