package catalog

import (
	"strconv"

	"skytrail/server/internal/model"
)

// questionRow questions 表。四个选项分列存储，与原题册版式一致。
type questionRow struct {
	ID            string `gorm:"primaryKey;column:id"`
	SectionNumber int    `gorm:"column:section_number;index"`
	SectionName   string `gorm:"column:section_name"`
	Stem          string `gorm:"column:stem;not null"`
	Option1       string `gorm:"column:option_1;not null"`
	Option2       string `gorm:"column:option_2;not null"`
	Option3       string `gorm:"column:option_3;not null"`
	Option4       string `gorm:"column:option_4;not null"`
	CorrectOption int    `gorm:"column:correct_option;not null"`
	Phase         string `gorm:"column:phase;not null;default:enroute;index"`
	FlightContext string `gorm:"column:flight_context;not null;default:''"`
	Explanation   string `gorm:"column:explanation;not null;default:''"`
	IsCritical    bool   `gorm:"column:is_critical;default:false"`
	RiskPoints    int    `gorm:"column:risk_points;not null;default:1"`
}

func (questionRow) TableName() string { return "questions" }

type referenceRow struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	QuestionID    string `gorm:"column:question_id;not null;index"`
	ReferenceText string `gorm:"column:reference_text;not null"`
	CanonicalURL  string `gorm:"column:canonical_url"`
}

func (referenceRow) TableName() string { return "question_references" }

// docRow 题库出处文档的版本信息。
type docRow struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	Name    string `gorm:"column:name;not null"`
	Edition string `gorm:"column:edition;not null"`
	Date    string `gorm:"column:date;not null"`
}

func (docRow) TableName() string { return "doc_metadata" }

func toRow(q model.QuestionRecord) questionRow {
	opts := make([]string, 4)
	copy(opts, q.Options)
	section, _ := strconv.Atoi(q.SectionNumber())
	return questionRow{
		ID:            q.ID,
		SectionNumber: section,
		SectionName:   q.SectionName,
		Stem:          q.Stem,
		Option1:       opts[0],
		Option2:       opts[1],
		Option3:       opts[2],
		Option4:       opts[3],
		CorrectOption: q.CorrectOption,
		Phase:         string(q.Phase),
		FlightContext: q.FlightContext,
		Explanation:   q.Explanation,
		IsCritical:    q.IsCritical,
		RiskPoints:    q.RiskPoints,
	}
}

func (r questionRow) record() model.QuestionRecord {
	return model.QuestionRecord{
		ID:            r.ID,
		SectionName:   r.SectionName,
		Stem:          r.Stem,
		Options:       []string{r.Option1, r.Option2, r.Option3, r.Option4},
		CorrectOption: r.CorrectOption,
		Phase:         model.Phase(r.Phase),
		RiskPoints:    r.RiskPoints,
		IsCritical:    r.IsCritical,
		Explanation:   r.Explanation,
		FlightContext: r.FlightContext,
	}
}

func (r referenceRow) reference() model.Reference {
	return model.Reference{
		QuestionID:   r.QuestionID,
		Text:         r.ReferenceText,
		CanonicalURL: r.CanonicalURL,
	}
}
