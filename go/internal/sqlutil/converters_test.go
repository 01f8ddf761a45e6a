package sqlutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/sqlc-dev/pqtype"
)

type color struct {
	At    int    `json:"at"`
	Color string `json:"color"`
}

func TestNullJSONRoundTrip(t *testing.T) {
	in := []color{{At: 0, Color: "#00ff00"}, {At: 60, Color: "#ff0000"}}

	raw, err := ToNullJSON(in)
	if err != nil {
		t.Fatalf("ToNullJSON: %v", err)
	}
	if !raw.Valid {
		t.Fatal("expected valid json column")
	}

	out, err := FromNullJSON[color](raw)
	if err != nil {
		t.Fatalf("FromNullJSON: %v", err)
	}
	if len(out) != 2 || out[1] != in[1] {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestNullJSONEmpty(t *testing.T) {
	raw, err := ToNullJSON[color](nil)
	if err != nil {
		t.Fatalf("ToNullJSON: %v", err)
	}
	if raw.Valid {
		t.Fatal("empty slice should be NULL")
	}

	out, err := FromNullJSON[color](pqtype.NullRawMessage{})
	if err != nil || out != nil {
		t.Fatalf("got %v, %v", out, err)
	}
}

func TestFromNullJSONInvalid(t *testing.T) {
	_, err := FromNullJSON[color](pqtype.NullRawMessage{RawMessage: []byte("{"), Valid: true})
	if err == nil {
		t.Fatal("expected error for malformed json")
	}
}

func TestNullableConverters(t *testing.T) {
	if p := FromSqlStringPtr(sql.NullString{}); p != nil {
		t.Fatalf("expected nil, got %q", *p)
	}
	s := "#ff0000"
	if got := FromSqlStringPtr(ToSqlString(&s)); got == nil || *got != s {
		t.Fatalf("string round trip failed: %v", got)
	}

	n := 30
	if got := FromSqlInt32(ToSqlInt32(&n)); got == nil || *got != 30 {
		t.Fatalf("int round trip failed: %v", got)
	}

	now := time.Now()
	if got := FromSqlTime(ToSqlTime(&now)); got == nil || !got.Equal(now) {
		t.Fatalf("time round trip failed: %v", got)
	}
	if ToSqlTime(nil).Valid {
		t.Fatal("nil time should be invalid")
	}
}
