package config

import (
	"testing"

	"go.viam.com/test"
)

var sampleAttributeMap = AttributeMap{
	"ok_boolean_false":    false,
	"ok_boolean_true":     true,
	"bad_boolean_false":   0,
	"bad_boolean_true":    "true",
	"good_int_slice":      []interface{}{1, 2, 3},
	"bad_int_slice":       "this is not an int slice",
	"bad_int_slice_2":     []interface{}{1, 2, "3"},
	"good_string_slice":   []interface{}{"1", "2", "3"},
	"bad_string_slice":    123,
	"bad_string_slice_2":  []interface{}{"1", "2", 3},
}

func runForPanic(f func()) (didPanic bool, recovered interface{}) {
	defer func() {
		if r := recover(); r != nil {
			didPanic = true
			recovered = r
		}
	}()
	f()
	return false, nil
}

func TestAttributeMap(t *testing.T) {
	b := sampleAttributeMap.Bool("ok_boolean_true", false)
	test.That(t, b, test.ShouldBeTrue)
	b = sampleAttributeMap.Bool("ok_boolean_false", false)
	test.That(t, b, test.ShouldBeFalse)

	didPanic, r := runForPanic(func() { sampleAttributeMap.Bool("bad_boolean_true", false) })
	test.That(t, didPanic, test.ShouldBeTrue)
	test.That(t, r.(string), test.ShouldContainSubstring, "wanted a bool")

	didPanic, r = runForPanic(func() { sampleAttributeMap.Bool("bad_boolean_false", false) })
	test.That(t, didPanic, test.ShouldBeTrue)
	test.That(t, r.(string), test.ShouldContainSubstring, "wanted a bool")

	b = sampleAttributeMap.Bool("junk_key", false)
	test.That(t, b, test.ShouldBeFalse)

	iSlice := sampleAttributeMap.IntSlice("good_int_slice")
	test.That(t, iSlice, test.ShouldResemble, []int{1, 2, 3})

	didPanic, r = runForPanic(func() { sampleAttributeMap.IntSlice("bad_int_slice") })
	test.That(t, didPanic, test.ShouldBeTrue)
	test.That(t, r.(string), test.ShouldContainSubstring, "wanted a []int")

	didPanic, r = runForPanic(func() { sampleAttributeMap.IntSlice("bad_int_slice_2") })
	test.That(t, didPanic, test.ShouldBeTrue)
	test.That(t, r.(string), test.ShouldContainSubstring, "values in (bad_int_slice_2) need to be ints")

	sSlice := sampleAttributeMap.StringSlice("good_string_slice")
	test.That(t, sSlice, test.ShouldResemble, []string{"1", "2", "3"})

	didPanic, r = runForPanic(func() { sampleAttributeMap.StringSlice("bad_string_slice") })
	test.That(t, didPanic, test.ShouldBeTrue)
	test.That(t, r.(string), test.ShouldContainSubstring, "wanted a []string")

	didPanic, r = runForPanic(func() { sampleAttributeMap.StringSlice("bad_string_slice_2") })
	test.That(t, didPanic, test.ShouldBeTrue)
	test.That(t, r.(string), test.ShouldContainSubstring, "values in (bad_string_slice_2) need to be strings")
}
