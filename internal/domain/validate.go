package domain

import "fmt"

const (
	maxTemplateNameLen = 24
	maxSlideTextLen    = 100
	maxAnswerTextLen   = 100
	maxSlideDuration   = 120
)

// FieldViolation describes why one field of a template is invalid.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validate checks a template the way the authoring tool does and returns every
// violation found. A nil result means the template can be hosted.
func (t GameTemplate) Validate() []FieldViolation {
	var vs []FieldViolation
	add := func(field, format string, args ...any) {
		vs = append(vs, FieldViolation{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if t.Name == "" {
		add("name", "game template must have a name")
	}
	if len(t.Name) > maxTemplateNameLen {
		add("name", "game template name cannot exceed %d characters", maxTemplateNameLen)
	}
	if len(t.Slides) == 0 {
		add("slides", "game template must have at least 1 slide")
	}

	for i, s := range t.Slides {
		field := fmt.Sprintf("slides[%d]", i)

		if s.Text != nil {
			if *s.Text == "" {
				add(field+".text", "question text must be set")
			}
			if len(*s.Text) > maxSlideTextLen {
				add(field+".text", "question cannot exceed %d characters", maxSlideTextLen)
			}
		}

		for j, a := range s.Answers {
			switch {
			case a.Text == "":
				add(fmt.Sprintf("%s.answers[%d]", field, j), "answer text cannot be empty")
			case len(a.Text) > maxAnswerTextLen:
				add(fmt.Sprintf("%s.answers[%d]", field, j), "answer text cannot exceed %d characters", maxAnswerTextLen)
			}
		}

		if len(s.CorrectAnswer) == 0 {
			add(field+".correct_answer", "slide must have a correct answer")
		}
		if !s.IsMultipleAnswer && len(s.CorrectAnswer) > 1 {
			add(field+".correct_answer", "single answer slide cannot have multiple correct answers")
		}
		for _, c := range s.CorrectAnswer {
			if c < 0 || c >= len(s.Answers) {
				add(field+".correct_answer", "correct answer %d is out of bounds", c)
				break
			}
		}

		if s.Duration == 0 {
			add(field+".duration", "duration must be positive")
		}
		if s.Duration > maxSlideDuration {
			add(field+".duration", "duration cannot exceed %d seconds", maxSlideDuration)
		}
	}

	return vs
}
