package category

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var ErrNoMapping = errors.New("class mappings not found")

const (
	UnknownCode     = "UNKNOWN"
	UnknownName     = "Unknown"
	DefaultClasses  = 9
	descriptionNone = "Civic issue detected"
)

// Dataset folder name -> standardized category code.
var FolderCategories = map[string]string{
	"Potholes and RoadCracks":     "ROAD_POTHOLE",
	"Garbage":                     "GARBAGE",
	"DamagedElectricalPoles":      "STREETLIGHT",
	"Damaged concrete structures": "INFRASTRUCTURE",
	"DamagedRoadSigns":            "ROAD_SIGNS",
	"DeadAnimalsPollution":        "POLLUTION",
	"FallenTrees":                 "FALLEN_TREES",
	"Graffitti":                   "GRAFFITI",
	"IllegalParking":              "ILLEGAL_PARKING",
}

var CategoryDepartments = map[string]string{
	"ROAD_POTHOLE":    "Public Works Department (PWD)",
	"GARBAGE":         "Sanitation Department",
	"STREETLIGHT":     "Electrical Department",
	"INFRASTRUCTURE":  "Public Works Department (PWD)",
	"ROAD_SIGNS":      "Traffic Department",
	"POLLUTION":       "Environmental Health Department",
	"FALLEN_TREES":    "Parks & Recreation Department",
	"GRAFFITI":        "Municipal Cleaning Department",
	"ILLEGAL_PARKING": "Traffic Police Department",
}

var CategoryPriorities = map[string]Priority{
	"ROAD_POTHOLE":    PriorityHigh,
	"GARBAGE":         PriorityMedium,
	"STREETLIGHT":     PriorityHigh,
	"INFRASTRUCTURE":  PriorityHigh,
	"ROAD_SIGNS":      PriorityMedium,
	"POLLUTION":       PriorityHigh,
	"FALLEN_TREES":    PriorityHigh,
	"GRAFFITI":        PriorityLow,
	"ILLEGAL_PARKING": PriorityLow,
}

var CategoryDescriptions = map[string]string{
	"ROAD_POTHOLE":    "Road damage including potholes and cracks",
	"GARBAGE":         "Garbage, waste, or litter accumulation",
	"STREETLIGHT":     "Damaged electrical poles or streetlights",
	"INFRASTRUCTURE":  "Damaged concrete structures or infrastructure",
	"ROAD_SIGNS":      "Damaged or missing road signs",
	"POLLUTION":       "Environmental pollution (dead animals, etc.)",
	"FALLEN_TREES":    "Fallen trees blocking roads or paths",
	"GRAFFITI":        "Unauthorized graffiti on public property",
	"ILLEGAL_PARKING": "Illegal or improper parking",
}

// Category code -> category understood by the reporting backend.
var LegacyCategories = map[string]string{
	"ROAD_POTHOLE":    "pothole",
	"GARBAGE":         "garbage",
	"STREETLIGHT":     "streetlight",
	"INFRASTRUCTURE":  "infrastructure",
	"ROAD_SIGNS":      "traffic",
	"POLLUTION":       "pollution",
	"FALLEN_TREES":    "other",
	"GRAFFITI":        "other",
	"ILLEGAL_PARKING": "traffic",
}

// MappingEntry is one value of index_to_category.
type MappingEntry struct {
	Category     string   `json:"category"`
	OriginalName string   `json:"original_name"`
	Department   string   `json:"department"`
	Priority     Priority `json:"priority"`
}

// ClassMapping is the class_mappings.json file written next to the predictor
// weights. Index keys are decimal strings.
type ClassMapping struct {
	ClassToIdx        map[string]int          `json:"class_to_idx"`
	IdxToClass        map[string]string       `json:"idx_to_class"`
	IndexToCategory   map[string]MappingEntry `json:"index_to_category"`
	CategoryMapping   map[string]string       `json:"category_mapping"`
	DepartmentMapping map[string]string       `json:"department_mapping"`
	PriorityMapping   map[string]Priority     `json:"priority_mapping"`
	NumClasses        int                     `json:"num_classes"`
}

// BuildMapping derives the mapping for dataset class folders. Indices follow
// the sorted folder names.
func BuildMapping(folders []string) (*ClassMapping, error) {
	if len(folders) == 0 {
		return nil, errors.New("no class folders")
	}
	names := append([]string(nil), folders...)
	sort.Strings(names)

	m := &ClassMapping{
		ClassToIdx:        make(map[string]int, len(names)),
		IdxToClass:        make(map[string]string, len(names)),
		IndexToCategory:   make(map[string]MappingEntry, len(names)),
		CategoryMapping:   maps.Clone(FolderCategories),
		DepartmentMapping: maps.Clone(CategoryDepartments),
		PriorityMapping:   maps.Clone(CategoryPriorities),
		NumClasses:        len(names),
	}
	for i, name := range names {
		if _, dup := m.ClassToIdx[name]; dup {
			return nil, fmt.Errorf("duplicate class folder %q", name)
		}
		code, ok := FolderCategories[name]
		if !ok {
			code = strings.ToUpper(strings.ReplaceAll(name, " ", "_"))
		}
		dept, ok := CategoryDepartments[code]
		if !ok {
			dept = FallbackDepartment
		}
		prio, ok := CategoryPriorities[code]
		if !ok {
			prio = PriorityMedium
		}
		key := strconv.Itoa(i)
		m.ClassToIdx[name] = i
		m.IdxToClass[key] = name
		m.IndexToCategory[key] = MappingEntry{
			Category:     code,
			OriginalName: name,
			Department:   dept,
			Priority:     prio,
		}
	}
	return m, nil
}

// DatasetFolders lists the class folders of an image dataset laid out as
// one subdirectory per class. Hidden directories are skipped.
func DatasetFolders(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read dataset dir: %w", err)
	}
	var folders []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		folders = append(folders, e.Name())
	}
	if len(folders) == 0 {
		return nil, fmt.Errorf("no class folders in %s", root)
	}
	return folders, nil
}

// LoadMapping reads a class mapping file. A missing file returns ErrNoMapping.
func LoadMapping(path string) (*ClassMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoMapping
		}
		return nil, fmt.Errorf("read class mappings: %w", err)
	}

	var m ClassMapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode class mappings: %w", err)
	}
	for k := range m.IndexToCategory {
		if _, err := strconv.Atoi(k); err != nil {
			return nil, fmt.Errorf("invalid class index %q: %w", k, err)
		}
	}
	if m.NumClasses <= 0 {
		m.NumClasses = DefaultClasses
	}
	return &m, nil
}

// SaveMapping writes the mapping atomically.
func SaveMapping(path string, m *ClassMapping) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create mapping dir: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode class mappings: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp mapping file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("write temp mapping file: %w", err)
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		tmpFile.Close()
		return fmt.Errorf("chmod temp mapping file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp mapping file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), path); err != nil {
		return fmt.Errorf("replace mapping file: %w", err)
	}
	return nil
}

// Lookup resolves a class index. ok is false when the index is not in the
// mapping and the UNKNOWN placeholder was returned.
func (m *ClassMapping) Lookup(index int) (entry MappingEntry, ok bool) {
	if m != nil {
		if e, found := m.IndexToCategory[strconv.Itoa(index)]; found {
			if e.Category == "" {
				e.Category = UnknownCode
			}
			if e.OriginalName == "" {
				e.OriginalName = UnknownName
			}
			if e.Department == "" {
				e.Department = FallbackDepartment
			}
			if e.Priority == "" {
				e.Priority = PriorityMedium
			}
			return e, true
		}
	}
	return MappingEntry{
		Category:     UnknownCode,
		OriginalName: UnknownName,
		Department:   FallbackDepartment,
		Priority:     PriorityMedium,
	}, false
}

// CodeFor names a class in ranked prediction lists.
func (m *ClassMapping) CodeFor(index int) string {
	if m != nil {
		if e, ok := m.IndexToCategory[strconv.Itoa(index)]; ok && e.Category != "" {
			return e.Category
		}
	}
	return "CLASS_" + strconv.Itoa(index)
}

// Has reports whether code is one of the mapped categories.
func (m *ClassMapping) Has(code string) bool {
	if m == nil {
		return false
	}
	for _, e := range m.IndexToCategory {
		if e.Category == code {
			return true
		}
	}
	return false
}

// Indices returns the mapped class indices in ascending order.
func (m *ClassMapping) Indices() []int {
	if m == nil {
		return nil
	}
	out := make([]int, 0, len(m.IndexToCategory))
	for k := range m.IndexToCategory {
		idx, _ := strconv.Atoi(k)
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

func Describe(code string) string {
	if d, ok := CategoryDescriptions[code]; ok {
		return d
	}
	return descriptionNone
}

func Legacy(code string) string {
	if l, ok := LegacyCategories[code]; ok {
		return l
	}
	return FallbackCode
}

// DescribedCodes lists the categories that carry a description, sorted.
func DescribedCodes() []string {
	return sortedKeys(CategoryDescriptions)
}
