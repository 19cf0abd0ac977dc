package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	ColAge                 = "Age"
	ColGender              = "Gender"
	ColAcademicLevel       = "Academic_Level"
	ColCountry             = "Country"
	ColAvgDailyUsageHours  = "Avg_Daily_Usage_Hours"
	ColMostUsedPlatform    = "Most_Used_Platform"
	ColSleepHoursPerNight  = "Sleep_Hours_Per_Night"
	ColRelationshipStatus  = "Relationship_Status"
	ColConflictsOverSocial = "Conflicts_Over_Social_Media"

	ColMentalHealthScore = "Mental_Health_Score"
)

var (
	ErrMissingColumn = errors.New("missing column")
	ErrInvalidValue  = errors.New("invalid value")
)

// Value is a single table cell. A cell is either a number, a text value or null.
type Value struct {
	Number float64
	Text   string
	IsText bool
	Null   bool
}

func Num(v float64) Value { return Value{Number: v} }

func Text(s string) Value { return Value{Text: s, IsText: true} }

func NullValue() Value { return Value{Null: true} }

func (v Value) String() string {
	switch {
	case v.Null:
		return "<null>"
	case v.IsText:
		return strconv.Quote(v.Text)
	default:
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	}
}

// Fields holds a record keyed by column name.
type Fields map[string]Value

// Record is one survey observation. Categorical fields are optional; a nil
// pointer means the caller made no selection.
type Record struct {
	Age                      float64 `json:"Age"`
	Gender                   *string `json:"Gender"`
	AcademicLevel            *string `json:"Academic_Level"`
	Country                  *string `json:"Country"`
	AvgDailyUsageHours       float64 `json:"Avg_Daily_Usage_Hours"`
	MostUsedPlatform         *string `json:"Most_Used_Platform"`
	SleepHoursPerNight       float64 `json:"Sleep_Hours_Per_Night"`
	RelationshipStatus       *string `json:"Relationship_Status"`
	ConflictsOverSocialMedia float64 `json:"Conflicts_Over_Social_Media"`
}

// Fields maps every record field to its column name.
func (r Record) Fields() Fields {
	return Fields{
		ColAge:                 Num(r.Age),
		ColGender:              optionalText(r.Gender),
		ColAcademicLevel:       optionalText(r.AcademicLevel),
		ColCountry:             optionalText(r.Country),
		ColAvgDailyUsageHours:  Num(r.AvgDailyUsageHours),
		ColMostUsedPlatform:    optionalText(r.MostUsedPlatform),
		ColSleepHoursPerNight:  Num(r.SleepHoursPerNight),
		ColRelationshipStatus:  optionalText(r.RelationshipStatus),
		ColConflictsOverSocial: Num(r.ConflictsOverSocialMedia),
	}
}

func optionalText(s *string) Value {
	if s == nil {
		return NullValue()
	}
	return Text(*s)
}

// StringPtr is a small helper for building records by hand.
func StringPtr(s string) *string {
	return &s
}

type valueRange struct {
	min, max float64
}

var surveyRanges = map[string]valueRange{
	ColAge:                 {0, 120},
	ColAvgDailyUsageHours:  {0, 24},
	ColSleepHoursPerNight:  {0, 24},
	ColConflictsOverSocial: {0, math.Inf(1)},
}

// ValidateRanges checks numeric survey fields against the bounds the input
// form allows. Columns without a known range are not checked.
func ValidateRanges(fields Fields) error {
	var problems []string
	for name, bounds := range surveyRanges {
		v, ok := fields[name]
		if !ok || v.Null || v.IsText {
			continue
		}
		if math.IsNaN(v.Number) || v.Number < bounds.min || v.Number > bounds.max {
			problems = append(problems, fmt.Sprintf("%s=%v outside [%v, %v]", name, v.Number, bounds.min, bounds.max))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrInvalidValue, strings.Join(problems, "; "))
	}
	return nil
}

// FieldsFromJSON converts a decoded JSON object into typed fields.
func FieldsFromJSON(raw map[string]interface{}) (Fields, error) {
	fields := make(Fields, len(raw))
	for name, v := range raw {
		switch x := v.(type) {
		case nil:
			fields[name] = NullValue()
		case float64:
			fields[name] = Num(x)
		case string:
			fields[name] = Text(x)
		case bool:
			return nil, fmt.Errorf("%w: %s has boolean value", ErrInvalidValue, name)
		default:
			return nil, fmt.Errorf("%w: %s has unsupported type %T", ErrInvalidValue, name, v)
		}
	}
	return fields, nil
}
