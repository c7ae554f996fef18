package replay

import (
	"testing"

	"github.com/clockpipe/clockpipe/internal/cdc"
)

func TestZipStopsAtShorterSlice(t *testing.T) {
	cols := []cdc.SourceColumn{{Name: "id"}, {Name: "name"}}
	cells := []cdc.Cell{cdc.TextCell("1")}
	got := zip(cols, cells)
	if len(got) != 1 || got[0].Name != "id" {
		t.Errorf("got %+v", got)
	}
}

func TestSourcePrimaryKeyColumnsFiltersNonPK(t *testing.T) {
	b := &cdc.TableBinding{SourceColumns: []cdc.SourceColumn{
		{Name: "id", PrimaryKey: true},
		{Name: "name", PrimaryKey: false},
		{Name: "tenant_id", PrimaryKey: true},
	}}
	got := sourcePrimaryKeyColumns(b)
	if len(got) != 2 || got[0].Name != "id" || got[1].Name != "tenant_id" {
		t.Errorf("got %+v", got)
	}
}

func TestNamedCellMapRoundTrips(t *testing.T) {
	cells := zip([]cdc.SourceColumn{{Name: "a"}, {Name: "b"}}, []cdc.Cell{cdc.TextCell("1"), cdc.NullCell()})
	m := namedCellMap(cells)
	if m["a"].Text != "1" || !m["b"].IsNull() {
		t.Errorf("got %+v", m)
	}
}

func TestBatchPlanEmpty(t *testing.T) {
	plan := newBatchPlan()
	if !plan.empty() {
		t.Errorf("expected new plan to be empty")
	}
	plan.truncates["t"] = true
	if plan.empty() {
		t.Errorf("expected plan with a truncate to be non-empty")
	}
}

func TestBindingsByRelationIDAndName(t *testing.T) {
	bindings := NewBindings()
	bindings.Put(&cdc.TableBinding{DestTable: "users", RelationID: 42})

	if _, ok := bindings.ByRelationID(42); !ok {
		t.Errorf("expected binding to be found by relation id")
	}
	if _, ok := bindings.ByName("users"); !ok {
		t.Errorf("expected binding to be found by name")
	}
	if _, ok := bindings.ByRelationID(99); ok {
		t.Errorf("expected lookup miss for unknown relation id")
	}
}
