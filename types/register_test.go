package types_test

import (
	"reflect"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/maxatome/go-testdeep/td"

	"github.com/stewi1014/rmarshal/types"
)

type point struct {
	X, Y int
}

type person struct {
	FirstName string
	UserID    int
	Nick      string `rmarshal:"@nickname"`
	Point     string `rmarshal:"pt"`
	Skipped   int    `rmarshal:"-"`
	private   int
}

type halfMarshaler struct{}

func (halfMarshaler) MarshalBinary() ([]byte, error) { return nil, nil }

type dumpOnly struct{}

func (dumpOnly) MarshalRuby() (any, error) { return nil, nil }

type loadOnly struct{}

func (*loadOnly) UnmarshalRuby(any) error { return nil }

func TestRegistry(t *testing.T) {
	r := types.NewRegistry()
	td.CmpNoError(t, r.Register("Person", person{}))
	td.CmpNoError(t, r.RegisterStruct("Point", &point{}))

	err := r.Register("Person", point{})
	td.CmpTrue(t, errors.Is(err, types.ErrAlreadyRegistered))

	err = r.Register("Other", &person{})
	td.CmpTrue(t, errors.Is(err, types.ErrAlreadyRegistered))

	td.CmpError(t, r.Register("Half", halfMarshaler{}))
	td.CmpError(t, r.Register("DumpOnly", dumpOnly{}))
	td.CmpNoError(t, r.Register("LoadOnly", loadOnly{}))

	name, ok := r.ClassName(&person{})
	td.CmpTrue(t, ok)
	td.Cmp(t, name, types.Symbol("Person"))

	_, ok = r.ClassName(42)
	td.CmpFalse(t, ok)

	v, ok := r.Construct("Point")
	td.CmpTrue(t, ok)
	td.Cmp(t, v, &point{})

	_, ok = r.Construct("Nope")
	td.CmpFalse(t, ok)

	td.Cmp(t, r.Shape("Point"), types.ShapeStruct)
	td.Cmp(t, r.Shape("Person"), types.ShapeObject)
	td.Cmp(t, r.Classes(), []types.Symbol{"LoadOnly", "Person", "Point"})
}

func TestFields(t *testing.T) {
	ty := reflect.TypeOf(person{})

	td.Cmp(t, types.Fields(ty, types.ShapeObject), []types.Field{
		{Name: "@first_name", Index: 0},
		{Name: "@user_id", Index: 1},
		{Name: "@nickname", Index: 2},
		{Name: "@pt", Index: 3},
	})

	td.Cmp(t, types.Fields(reflect.TypeOf(point{}), types.ShapeStruct), []types.Field{
		{Name: "x", Index: 0},
		{Name: "y", Index: 1},
	})

	f, ok := types.FieldByName(ty, types.ShapeObject, "@user_id")
	td.CmpTrue(t, ok)
	td.Cmp(t, f.Index, 1)
}

func TestSnakeCase(t *testing.T) {
	for in, want := range map[string]string{
		"Name":       "name",
		"UserID":     "user_id",
		"HTTPServer": "http_server",
		"ID":         "id",
		"Snake_Case": "snake_case",
	} {
		td.Cmp(t, types.SnakeCase(in), want, in)
	}
}
