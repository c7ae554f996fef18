package schema

import (
	"strings"
	"testing"

	"github.com/clockpipe/clockpipe/internal/cdc"
	"github.com/clockpipe/clockpipe/internal/chtype"
)

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q, want unchanged", got)
	}
	got := truncate("this is a long statement", 7)
	if got != "this is..." {
		t.Errorf("got %q", got)
	}
}

func TestReconcileCreateTableStatementShape(t *testing.T) {
	binding := &cdc.TableBinding{
		DestTable: "users",
		SourceColumns: []cdc.SourceColumn{
			{Name: "id", NativeType: "int4", PrimaryKey: true},
			{Name: "name", NativeType: "text", Nullable: true},
		},
	}
	ddl := chtype.CreateTable("db", binding.DestTable, binding.SourceColumns, chtype.TableOptions{IndexGranularity: 8192}, "")
	for _, want := range []string{"CREATE TABLE db.users(", "`id` Int32", "ORDER BY (id)"} {
		if !strings.Contains(ddl, want) {
			t.Errorf("missing %q in %s", want, ddl)
		}
	}
}

func TestCreateTableMongoStatementShape(t *testing.T) {
	ddl := chtype.CreateTableMongo("db", "orders", []chtype.MongoColumn{
		{Name: "_id", Kind: chtype.BSONObjectID, PrimaryKey: true},
	}, chtype.TableOptions{IndexGranularity: 8192}, "")
	for _, want := range []string{"CREATE TABLE db.orders(", "`_id` String", "ORDER BY (_id)"} {
		if !strings.Contains(ddl, want) {
			t.Errorf("missing %q in %s", want, ddl)
		}
	}
}

func TestAddColumnMongoStatementShape(t *testing.T) {
	ddl := chtype.AddColumnMongo("db", "orders", chtype.MongoColumn{Name: "total", Kind: chtype.BSONDouble})
	want := "ALTER TABLE db.orders ADD COLUMN `total` Nullable(Float64);"
	if ddl != want {
		t.Errorf("got %q, want %q", ddl, want)
	}
}
