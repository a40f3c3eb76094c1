package rmarshal_test

import (
	"fmt"

	"github.com/stewi1014/rmarshal"
	"github.com/stewi1014/rmarshal/types"
)

func ExampleDump() {
	data, err := rmarshal.Dump([]any{1, types.Symbol("a"), "b"}, nil)
	if err != nil {
		panic(err)
	}
	fmt.Printf("%q\n", data)
	// Output: "\x04\b[\bi\x06:\x06aI\"\x06b\x06:\x06ET"
}

func ExampleLoad() {
	// Marshal.dump({name: "ruby", tags: [:x]})
	data := []byte("\x04\b{\a:\tnameI\"\truby\x06:\x06ET:\ttags[\x06:\x06x")

	v, err := rmarshal.Load(data, &rmarshal.Config{Hashes: rmarshal.HashStringKeyed})
	if err != nil {
		panic(err)
	}
	m := v.(map[string]any)
	fmt.Println(m["__symbol__name"], m["__symbol__tags"])
	// Output: ruby [x]
}

func ExampleRegister() {
	type Point struct {
		X, Y int
	}
	if err := rmarshal.RegisterStruct("ExamplePoint", Point{}); err != nil {
		panic(err)
	}

	data, err := rmarshal.Dump(Point{X: 1, Y: 2}, nil)
	if err != nil {
		panic(err)
	}
	v, err := rmarshal.Load(data, nil)
	if err != nil {
		panic(err)
	}
	fmt.Printf("%+v\n", *v.(*Point))
	// Output: {X:1 Y:2}
}
