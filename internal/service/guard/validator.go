package guard

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"securerag/internal/models"
)

const (
	MinAnswerLength = 5
	MaxAnswerLength = 1000

	DefaultRefusal = "I do not have enough information in the provided documents."
)

// RejectionError reports an answer withheld by the content policy.
type RejectionError struct {
	Reason string
	Score  float64
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("content policy violation: %s (score %.2f)", e.Reason, e.Score)
}

// Rules switches individual validator rows on or off.
type Rules struct {
	Toxicity   bool
	PII        bool
	Length     bool
	Confidence bool
	Sources    bool
}

// AllRules enables every check.
func AllRules() Rules {
	return Rules{Toxicity: true, PII: true, Length: true, Confidence: true, Sources: true}
}

// Recorder counts validator corrections; observability.Metrics satisfies it.
type Recorder interface {
	CountValidator(rule string)
}

type Options struct {
	Rules Rules
	// ToxicityThreshold defaults to DefaultToxicityThreshold when nil.
	ToxicityThreshold *float64
	Refusal           string
	Scorer            ToxicityScorer
	// Policy decides on the toxicity score. Without one the threshold is compared directly.
	Policy   *PolicyEngine
	Recorder Recorder
	Logger   *zap.Logger
}

// Validator turns a candidate into a QueryResult, fixing what it can and
// rejecting toxic answers.
type Validator struct {
	opts      Options
	threshold float64
}

const DefaultToxicityThreshold = 0.5

func NewValidator(opts Options) *Validator {
	if opts.Refusal == "" {
		opts.Refusal = DefaultRefusal
	}
	threshold := DefaultToxicityThreshold
	if opts.ToxicityThreshold != nil {
		threshold = *opts.ToxicityThreshold
	}
	if opts.Scorer == nil {
		opts.Scorer = NewLexiconScorer(nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Validator{opts: opts, threshold: threshold}
}

// Validate applies the rows in order: toxicity, PII, length, confidence,
// sources. The only error returned is *RejectionError.
func (v *Validator) Validate(ctx context.Context, c Candidate) (models.QueryResult, error) {
	answer := stringify(c[keyAnswer])

	if v.opts.Rules.Toxicity {
		if err := v.checkToxicity(ctx, answer); err != nil {
			v.count("toxicity")
			return models.QueryResult{}, err
		}
	}

	if v.opts.Rules.PII {
		if redacted, changed := RedactPII(answer); changed {
			v.count("pii")
			answer = redacted
		}
	}

	if v.opts.Rules.Length {
		answer = v.fixLength(answer)
	}

	return models.QueryResult{
		Answer:     answer,
		Confidence: v.confidence(c[keyConfidence]),
		Sources:    v.sources(c[keySources]),
	}, nil
}

func (v *Validator) checkToxicity(ctx context.Context, answer string) error {
	score := v.opts.Scorer.Score(answer)
	if v.opts.Policy == nil {
		if score > v.threshold {
			return &RejectionError{Reason: "toxicity above threshold", Score: score}
		}
		return nil
	}

	decision, err := v.opts.Policy.Decide(ctx, PolicyInput{
		Answer:    answer,
		Score:     score,
		Threshold: v.threshold,
	})
	if err != nil {
		// fail closed
		v.opts.Logger.Error("content policy evaluation failed", zap.Error(err))
		return &RejectionError{Reason: "content policy unavailable", Score: score}
	}
	if decision != DecisionAllow {
		return &RejectionError{Reason: "content policy decision " + decision, Score: score}
	}
	return nil
}

func (v *Validator) fixLength(answer string) string {
	trimmed := strings.TrimSpace(answer)
	if utf8.RuneCountInString(trimmed) > MaxAnswerLength {
		v.count("length")
		trimmed = strings.TrimRightFunc(string([]rune(trimmed)[:MaxAnswerLength]), unicode.IsSpace)
	}
	if utf8.RuneCountInString(trimmed) < MinAnswerLength {
		v.count("length")
		return v.opts.Refusal
	}
	return trimmed
}

func (v *Validator) confidence(raw any) models.Confidence {
	if !v.opts.Rules.Confidence {
		return models.Confidence(stringify(raw))
	}
	s, _ := raw.(string)
	conf := models.Confidence(strings.ToLower(strings.TrimSpace(s)))
	if !conf.Valid() {
		v.count("confidence")
		return models.ConfidenceLow
	}
	return conf
}

func (v *Validator) sources(raw any) []string {
	switch t := raw.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				if v.opts.Rules.Sources {
					v.count("sources")
					return []string{}
				}
				s = stringify(item)
			}
			out = append(out, s)
		}
		return out
	}
	if v.opts.Rules.Sources {
		if raw != nil {
			v.count("sources")
		}
		return []string{}
	}
	if raw == nil {
		return []string{}
	}
	return []string{stringify(raw)}
}

func (v *Validator) count(rule string) {
	if v.opts.Recorder != nil {
		v.opts.Recorder.CountValidator(rule)
	}
}
