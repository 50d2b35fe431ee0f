package approval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ScoreItem is one rated attribute.
type ScoreItem struct {
	Score    int    `json:"score"`
	Comments string `json:"comments,omitempty"`
}

// Objective is a development plan line.
type Objective struct {
	Objective string `json:"objective"`
	Who       string `json:"who"`
	When      string `json:"when"`
	Where     string `json:"where"`
}

// Content holds the evaluator-editable part of a document.
// Identity and workflow fields live on Document and cannot be set through it.
type Content struct {
	Code             string `json:"code,omitempty"`
	Name             string `json:"name,omitempty"`
	Designation      string `json:"designation,omitempty"`
	Date             string `json:"date,omitempty"`
	ReviewPeriodFrom string `json:"reviewPeriodFrom,omitempty"`
	ReviewPeriodTo   string `json:"reviewPeriodTo,omitempty"`
	ImmediateBoss    string `json:"immediateBoss,omitempty"`
	AppraisalHistory string `json:"appraisalHistory,omitempty"`

	OverallResult string `json:"overallResult,omitempty"`
	Strength      string `json:"strength,omitempty"`
	Weakness      string `json:"weakness,omitempty"`
	OtherComments string `json:"otherComments,omitempty"`

	EvaluationScores              map[string]ScoreItem `json:"evaluationScores,omitempty"`
	WhiteCollarProfessionalScores map[string]ScoreItem `json:"whiteCollarProfessionalScores,omitempty"`
	WhiteCollarPersonalScores     map[string]ScoreItem `json:"whiteCollarPersonalScores,omitempty"`

	ReportingOfficerComments      string `json:"reportingOfficerComments,omitempty"`
	ReportingOfficerName          string `json:"reportingOfficerName,omitempty"`
	ReportingOfficerDate          string `json:"reportingOfficerDate,omitempty"`
	CounterSigningOfficerComments string `json:"counterSigningOfficerComments,omitempty"`
	CounterSigningOfficerName     string `json:"counterSigningOfficerName,omitempty"`
	CounterSigningOfficerDate     string `json:"counterSigningOfficerDate,omitempty"`

	DevelopmentPlan           string      `json:"developmentPlan,omitempty"`
	DevelopmentPlanObjectives []Objective `json:"developmentPlanObjectives,omitempty"`
	DevelopmentPlanResult     string      `json:"developmentPlanResult,omitempty"`
	RecommendedByHOD          string      `json:"recommendedByHOD,omitempty"`
	RecommendedByHR           string      `json:"recommendedByHR,omitempty"`
	EmployeeSignature         string      `json:"employeeSignature,omitempty"`
	EmployeeSignatureDate     string      `json:"employeeSignatureDate,omitempty"`
}

// Clone returns a deep copy.
func (c Content) Clone() Content {
	out := c
	out.EvaluationScores = cloneScores(c.EvaluationScores)
	out.WhiteCollarProfessionalScores = cloneScores(c.WhiteCollarProfessionalScores)
	out.WhiteCollarPersonalScores = cloneScores(c.WhiteCollarPersonalScores)
	if c.DevelopmentPlanObjectives != nil {
		out.DevelopmentPlanObjectives = append([]Objective(nil), c.DevelopmentPlanObjectives...)
	}
	return out
}

// ApplyContent overlays a JSON patch onto a copy of c.
// Keys that are not content fields are ignored; score maps merge per attribute.
func ApplyContent(c Content, patch json.RawMessage) (Content, error) {
	out := c.Clone()
	patch = bytes.TrimSpace(patch)
	if len(patch) == 0 || bytes.Equal(patch, []byte("null")) {
		return out, nil
	}
	if err := json.Unmarshal(patch, &out); err != nil {
		return c, fmt.Errorf("%w: content: %v", ErrValidation, err)
	}
	for _, m := range []map[string]ScoreItem{out.EvaluationScores, out.WhiteCollarProfessionalScores, out.WhiteCollarPersonalScores} {
		for k, item := range m {
			if item.Score < 0 {
				return c, fmt.Errorf("%w: score for %q must be >= 0", ErrValidation, k)
			}
		}
	}
	return out, nil
}

// Max totals per form.
const (
	BlueCollarMaxScore  = 50
	WhiteCollarMaxScore = 100
)

// ComputeScore sums the sheet that matches the form type.
func ComputeScore(form FormType, c Content) (int, float64) {
	var total, outOf int
	switch form {
	case FormBlueCollar:
		total = sumScores(c.EvaluationScores)
		outOf = BlueCollarMaxScore
	default:
		total = sumScores(c.WhiteCollarProfessionalScores) + sumScores(c.WhiteCollarPersonalScores)
		outOf = WhiteCollarMaxScore
	}
	pct := float64(total) / float64(outOf) * 100
	return total, math.Round(pct*100) / 100
}

// ScoreSnapshot captures the scored fields diffed into edit history.
type ScoreSnapshot struct {
	EvaluationScores              map[string]ScoreItem `json:"evaluationScores,omitempty"`
	WhiteCollarProfessionalScores map[string]ScoreItem `json:"whiteCollarProfessionalScores,omitempty"`
	WhiteCollarPersonalScores     map[string]ScoreItem `json:"whiteCollarPersonalScores,omitempty"`
	TotalScore                    int                  `json:"totalScore"`
	Percentage                    float64              `json:"percentage"`
	OverallResult                 string               `json:"overallResult,omitempty"`
}

func snapshotOf(d Document) ScoreSnapshot {
	return ScoreSnapshot{
		EvaluationScores:              cloneScores(d.Content.EvaluationScores),
		WhiteCollarProfessionalScores: cloneScores(d.Content.WhiteCollarProfessionalScores),
		WhiteCollarPersonalScores:     cloneScores(d.Content.WhiteCollarPersonalScores),
		TotalScore:                    d.TotalScore,
		Percentage:                    d.Percentage,
		OverallResult:                 d.Content.OverallResult,
	}
}

func (s ScoreSnapshot) clone() ScoreSnapshot {
	s.EvaluationScores = cloneScores(s.EvaluationScores)
	s.WhiteCollarProfessionalScores = cloneScores(s.WhiteCollarProfessionalScores)
	s.WhiteCollarPersonalScores = cloneScores(s.WhiteCollarPersonalScores)
	return s
}

// DiffScores lists scored fields that differ, ordered by field name.
func DiffScores(before, after ScoreSnapshot) []FieldChange {
	var out []FieldChange
	out = append(out, diffScoreMap("evaluationScores", before.EvaluationScores, after.EvaluationScores)...)
	out = append(out, diffScoreMap("whiteCollarProfessionalScores", before.WhiteCollarProfessionalScores, after.WhiteCollarProfessionalScores)...)
	out = append(out, diffScoreMap("whiteCollarPersonalScores", before.WhiteCollarPersonalScores, after.WhiteCollarPersonalScores)...)
	if before.TotalScore != after.TotalScore {
		out = append(out, FieldChange{Field: "totalScore", From: strconv.Itoa(before.TotalScore), To: strconv.Itoa(after.TotalScore)})
	}
	if before.Percentage != after.Percentage {
		out = append(out, FieldChange{
			Field: "percentage",
			From:  strconv.FormatFloat(before.Percentage, 'f', -1, 64),
			To:    strconv.FormatFloat(after.Percentage, 'f', -1, 64),
		})
	}
	if before.OverallResult != after.OverallResult {
		out = append(out, FieldChange{Field: "overallResult", From: before.OverallResult, To: after.OverallResult})
	}
	return out
}

func diffScoreMap(prefix string, before, after map[string]ScoreItem) []FieldChange {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	var out []FieldChange
	for _, k := range names {
		b, bok := before[k]
		a, aok := after[k]
		if bok == aok && b.Score == a.Score {
			continue
		}
		change := FieldChange{Field: prefix + "." + k}
		if bok {
			change.From = strconv.Itoa(b.Score)
		}
		if aok {
			change.To = strconv.Itoa(a.Score)
		}
		out = append(out, change)
	}
	return out
}

func sumScores(m map[string]ScoreItem) int {
	total := 0
	for _, item := range m {
		total += item.Score
	}
	return total
}

func cloneScores(m map[string]ScoreItem) map[string]ScoreItem {
	if m == nil {
		return nil
	}
	out := make(map[string]ScoreItem, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
