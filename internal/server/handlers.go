package server

import (
	"encoding/json"
	"strconv"
	"strings"
)

type chatQueryRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type wellnessFormRequest struct {
	Age                       int     `json:"age"`
	MaritalStatus             string  `json:"marital_status"`
	EducationLevel            string  `json:"education_level"`
	NumberOfChildren          int     `json:"number_of_children"`
	SmokingStatus             string  `json:"smoking_status"`
	PhysicalActivityLevel     string  `json:"physical_activity_level"`
	EmploymentStatus          string  `json:"employment_status"`
	Income                    float64 `json:"income"`
	AlcoholConsumption        string  `json:"alcohol_consumption"`
	DietaryHabits             string  `json:"dietary_habits"`
	SleepPatterns             string  `json:"sleep_patterns"`
	HistoryOfMentalIllness    string  `json:"history_of_mental_illness"`
	HistoryOfSubstanceAbuse   string  `json:"history_of_substance_abuse"`
	FamilyHistoryOfDepression string  `json:"family_history_of_depression"`
	ChronicMedicalConditions  string  `json:"chronic_medical_conditions"`
}

// modelInput maps the form to the feature names the risk model was
// trained on. Chronic conditions are collected but not a model input.
func (f wellnessFormRequest) modelInput() map[string]any {
	return map[string]any{
		"Age":                          f.Age,
		"Marital Status":               f.MaritalStatus,
		"Education Level":              f.EducationLevel,
		"Number of Children":           f.NumberOfChildren,
		"Smoking Status":               f.SmokingStatus,
		"Physical Activity Level":      f.PhysicalActivityLevel,
		"Employment Status":            f.EmploymentStatus,
		"Income":                       f.Income,
		"Alcohol Consumption":          f.AlcoholConsumption,
		"Dietary Habits":               f.DietaryHabits,
		"Sleep Patterns":               f.SleepPatterns,
		"History of Mental Illness":    f.HistoryOfMentalIllness,
		"History of Substance Abuse":   f.HistoryOfSubstanceAbuse,
		"Family History of Depression": f.FamilyHistoryOfDepression,
	}
}

func (f wellnessFormRequest) formData(userID string) map[string]any {
	return map[string]any{
		"user_id":                      userID,
		"age":                          f.Age,
		"marital_status":               f.MaritalStatus,
		"education_level":              f.EducationLevel,
		"number_of_children":           f.NumberOfChildren,
		"smoking_status":               f.SmokingStatus,
		"physical_activity_level":      f.PhysicalActivityLevel,
		"employment_status":            f.EmploymentStatus,
		"income":                       f.Income,
		"alcohol_consumption":          f.AlcoholConsumption,
		"dietary_habits":               f.DietaryHabits,
		"sleep_patterns":               f.SleepPatterns,
		"history_of_mental_illness":    f.HistoryOfMentalIllness,
		"history_of_substance_abuse":   f.HistoryOfSubstanceAbuse,
		"family_history_of_depression": f.FamilyHistoryOfDepression,
		"chronic_medical_conditions":   f.ChronicMedicalConditions,
	}
}

func parseJSONStringMap(input []byte) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	var result map[string]any
	if err := json.Unmarshal(input, &result); err != nil || result == nil {
		return map[string]any{}
	}
	return result
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func truncateForLog(value string, limit int) string {
	trimmed := strings.TrimSpace(value)
	if limit <= 0 || len(trimmed) <= limit {
		return trimmed
	}
	return trimmed[:limit] + "...(truncated)"
}

// normalizeRole maps stored roles to the wire labels the frontend
// renders ("user" and "model").
func normalizeRole(role string) string {
	if strings.EqualFold(strings.TrimSpace(role), "user") {
		return "user"
	}
	return "model"
}
