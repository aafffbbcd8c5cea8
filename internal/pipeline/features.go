package pipeline

import (
	"sort"
	"strings"

	"vehirec/internal/models"
)

const (
	typePrefix    = "type="
	featurePrefix = "feature="
)

// FeatureSchema is the ordered column list produced at fit time.
// It is frozen: later transforms always emit exactly these columns in this order.
type FeatureSchema struct {
	Columns []string
	index   map[string]int
}

// NewFeatureSchema rebuilds a schema from a persisted column list.
func NewFeatureSchema(columns []string) FeatureSchema {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}
	return FeatureSchema{Columns: columns, index: idx}
}

// Width is the number of columns.
func (s FeatureSchema) Width() int {
	return len(s.Columns)
}

// Column returns the position of a column, or -1.
func (s FeatureSchema) Column(name string) int {
	if s.index == nil {
		for i, c := range s.Columns {
			if c == name {
				return i
			}
		}
		return -1
	}
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// FeatureMatrix holds one 0/1 row per vehicle, in input order.
type FeatureMatrix [][]float64

// FitFeatures derives the schema from the given vehicles and featurizes them.
// Columns are every distinct type (sorted) followed by every distinct tag (sorted).
func FitFeatures(vehicles []models.Vehicle) (FeatureMatrix, FeatureSchema) {
	types := make(map[string]struct{})
	tags := make(map[string]struct{})
	for _, v := range vehicles {
		if t := models.NormalizeTag(v.Type); t != "" {
			types[t] = struct{}{}
		}
		for _, tag := range v.Tags() {
			tags[tag] = struct{}{}
		}
	}

	columns := make([]string, 0, len(types)+len(tags))
	columns = append(columns, sortedWithPrefix(types, typePrefix)...)
	columns = append(columns, sortedWithPrefix(tags, featurePrefix)...)

	schema := NewFeatureSchema(columns)
	return TransformFeatures(vehicles, schema), schema
}

// TransformFeatures featurizes vehicles against a frozen schema.
// Types and tags the schema does not know are dropped.
func TransformFeatures(vehicles []models.Vehicle, schema FeatureSchema) FeatureMatrix {
	out := make(FeatureMatrix, len(vehicles))
	for i, v := range vehicles {
		out[i] = featureRow(v, schema)
	}
	return out
}

func featureRow(v models.Vehicle, schema FeatureSchema) []float64 {
	row := make([]float64, schema.Width())
	if t := models.NormalizeTag(v.Type); t != "" {
		if c := schema.Column(typePrefix + t); c >= 0 {
			row[c] = 1
		}
	}
	for _, tag := range v.Tags() {
		if c := schema.Column(featurePrefix + tag); c >= 0 {
			row[c] = 1
		}
	}
	return row
}

func sortedWithPrefix(set map[string]struct{}, prefix string) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, prefix+k)
	}
	sort.Strings(out)
	return out
}

// DescribeRow renders the active columns of a row, mostly for logs and exports.
func DescribeRow(row []float64, schema FeatureSchema) string {
	active := make([]string, 0, len(row))
	for c, v := range row {
		if v != 0 && c < schema.Width() {
			active = append(active, schema.Columns[c])
		}
	}
	return strings.Join(active, ",")
}
