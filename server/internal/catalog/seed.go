package catalog

import (
	"context"
	_ "embed"
	"fmt"

	"skytrail/server/internal/model"

	"gopkg.in/yaml.v3"
)

//go:embed seed/pstar.yaml
var seedYAML []byte

// Document 题库出处文档。
type Document struct {
	Name    string `yaml:"name"`
	Edition string `yaml:"edition"`
	Date    string `yaml:"date"`
}

// SeedSet 内嵌的种子题库。
type SeedSet struct {
	Document  Document               `yaml:"document"`
	Questions []model.QuestionRecord `yaml:"questions"`
}

// LoadSeed 解析内嵌种子；引用的 QuestionID 由外层题目补齐。
func LoadSeed() (*SeedSet, error) {
	return parseSeed(seedYAML)
}

func parseSeed(data []byte) (*SeedSet, error) {
	var set SeedSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	for i := range set.Questions {
		q := &set.Questions[i]
		for j := range q.References {
			q.References[j].QuestionID = q.ID
		}
	}
	return &set, nil
}

// Seed 迁移表结构后整体替换题库内容。
func Seed(ctx context.Context, store *Store, set *SeedSet) error {
	if err := store.AutoMigrate(ctx); err != nil {
		return err
	}
	if err := store.Replace(ctx, set.Document, set.Questions); err != nil {
		return err
	}
	store.log.Info("Catalog seeded", "questions", len(set.Questions), "document", set.Document.Name)
	return nil
}
