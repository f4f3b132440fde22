package category

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Info is the municipal metadata attached to one model output class.
type Info struct {
	Code        string   `yaml:"code" json:"category"`
	Name        string   `yaml:"name,omitempty" json:"name,omitempty"`
	Description string   `yaml:"description" json:"description"`
	Department  string   `yaml:"department" json:"department"`
	Priority    Priority `yaml:"priority" json:"priority"`
}

const (
	FallbackCode       = "other"
	FallbackDepartment = "General Municipal Department"
)

var ErrEmptyTable = errors.New("category table is empty")

// Table maps model output indices to categories for the classifier service.
type Table struct {
	entries []Info
	byCode  map[string]Info
}

// DefaultTable returns the categories the classifier model was trained on.
func DefaultTable() *Table {
	t, _ := NewTable([]Info{
		{Code: "pothole", Priority: PriorityHigh, Department: "Public Works Department (PWD)",
			Description: "Road damage detected showing cracks, holes, or deteriorated pavement surface"},
		{Code: "streetlight", Priority: PriorityMedium, Department: "Electrical Department",
			Description: "Street lighting infrastructure issue detected including broken poles or malfunctioning lights"},
		{Code: "garbage", Priority: PriorityMedium, Department: "Sanitation Department",
			Description: "Waste management issue detected including accumulated trash or overflowing bins"},
		{Code: "water", Priority: PriorityHigh, Department: "Water Supply Department",
			Description: "Water-related issue detected including leakage, waterlogging, or drainage problems"},
		{Code: "traffic", Priority: PriorityHigh, Department: "Traffic Police Department",
			Description: "Traffic infrastructure issue detected including signal problems or damaged road markings"},
		{Code: "noise", Priority: PriorityLow, Department: "Pollution Control Board",
			Description: "Noise pollution source detected"},
		{Code: "safety", Priority: PriorityHigh, Department: "Municipal Corporation",
			Description: "Public safety hazard detected requiring immediate attention"},
		{Code: FallbackCode, Priority: PriorityMedium, Department: FallbackDepartment,
			Description: "General civic issue detected that requires municipal attention"},
	})
	return t
}

func NewTable(entries []Info) (*Table, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyTable
	}
	t := &Table{
		entries: make([]Info, len(entries)),
		byCode:  make(map[string]Info, len(entries)),
	}
	for i, e := range entries {
		if e.Code == "" {
			return nil, fmt.Errorf("category %d has no code", i)
		}
		if e.Priority == "" {
			e.Priority = PriorityMedium
		}
		if e.Department == "" {
			e.Department = FallbackDepartment
		}
		t.entries[i] = e
		t.byCode[e.Code] = e
	}
	return t, nil
}

// LoadTable reads a YAML list of categories, ordered by model output index.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category table: %w", err)
	}
	var doc struct {
		Categories []Info `yaml:"categories"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode category table: %w", err)
	}
	return NewTable(doc.Categories)
}

func (t *Table) Len() int { return len(t.entries) }

// Lookup returns the category for a class index. ok is false when the index
// is outside the table and the fallback category was returned instead.
func (t *Table) Lookup(index int) (info Info, ok bool) {
	if index >= 0 && index < len(t.entries) {
		return t.entries[index], true
	}
	if fb, found := t.byCode[FallbackCode]; found {
		return fb, false
	}
	return Info{
		Code:        FallbackCode,
		Description: "Civic issue detected",
		Department:  "Municipal Corporation",
		Priority:    PriorityMedium,
	}, false
}

func (t *Table) Has(code string) bool {
	_, ok := t.byCode[code]
	return ok
}

func (t *Table) Codes() []string {
	codes := make([]string, len(t.entries))
	for i, e := range t.entries {
		codes[i] = e.Code
	}
	return codes
}

// Index renders the table as index -> code, the shape served by /categories.
func (t *Table) Index() map[int]string {
	out := make(map[int]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Code
	}
	return out
}

func (t *Table) Priorities() map[string]Priority {
	out := make(map[string]Priority, len(t.byCode))
	for code, e := range t.byCode {
		out[code] = e.Priority
	}
	return out
}

func (t *Table) Departments() map[string]string {
	out := make(map[string]string, len(t.byCode))
	for code, e := range t.byCode {
		out[code] = e.Department
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
