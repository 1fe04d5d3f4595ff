package domain_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/gudritis/internal/domain"
)

func TestSlide_IsCorrect(t *testing.T) {
	slide := domain.Slide{
		Duration:         10,
		IsMultipleAnswer: true,
		Answers:          []domain.Answer{{Index: 0, Text: "a"}, {Index: 1, Text: "b"}, {Index: 2, Text: "c"}, {Index: 3, Text: "d"}},
		CorrectAnswer:    []int{0, 3},
	}

	tests := map[string]struct {
		submitted []int
		want      bool
	}{
		"exact match is correct":        {submitted: []int{0, 3}, want: true},
		"order does not matter":         {submitted: []int{3, 0}, want: true},
		"missing one correct answer":    {submitted: []int{0}, want: false},
		"superset is still correct":     {submitted: []int{0, 1, 3}, want: true},
		"empty submission is incorrect": {submitted: nil, want: false},
		"only wrong answers":            {submitted: []int{1, 2}, want: false},
		"duplicates do not count twice": {submitted: []int{0, 0}, want: false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, slide.IsCorrect(tt.submitted))
		})
	}
}

func TestGameTemplate_Validate(t *testing.T) {
	text := func(s string) *string { return &s }

	valid := func() domain.GameTemplate {
		return domain.GameTemplate{
			Name: "Capitals",
			Slides: []domain.Slide{
				{
					Duration:      10,
					Text:          text("Capital of Finland?"),
					Answers:       []domain.Answer{{Index: 0, Text: "Helsinki"}, {Index: 1, Text: "Turku"}},
					CorrectAnswer: []int{0},
				},
			},
		}
	}

	tests := map[string]struct {
		arrange func() domain.GameTemplate
		fields  []string
	}{
		"valid template": {
			arrange: valid,
		},
		"missing name and slides": {
			arrange: func() domain.GameTemplate { return domain.GameTemplate{} },
			fields:  []string{"name", "slides"},
		},
		"name too long": {
			arrange: func() domain.GameTemplate {
				g := valid()
				g.Name = strings.Repeat("x", 25)
				return g
			},
			fields: []string{"name"},
		},
		"single answer slide with two correct answers": {
			arrange: func() domain.GameTemplate {
				g := valid()
				g.Slides[0].CorrectAnswer = []int{0, 1}
				return g
			},
			fields: []string{"slides[0].correct_answer"},
		},
		"correct answer out of bounds": {
			arrange: func() domain.GameTemplate {
				g := valid()
				g.Slides[0].CorrectAnswer = []int{5}
				return g
			},
			fields: []string{"slides[0].correct_answer"},
		},
		"duration limits and empty answer": {
			arrange: func() domain.GameTemplate {
				g := valid()
				g.Slides[0].Duration = 121
				g.Slides[0].Answers[1].Text = ""
				return g
			},
			fields: []string{"slides[0].answers[1]", "slides[0].duration"},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			vs := tt.arrange().Validate()

			fields := make([]string, 0, len(vs))
			for _, v := range vs {
				fields = append(fields, v.Field)
			}
			require.ElementsMatch(t, tt.fields, fields)
		})
	}
}
