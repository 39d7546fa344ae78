package utils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"runtime/debug"
)

func Fatal(v any) {
	fmt.Printf("eld:\n\t\033[0;1;31mfatal\033[0m: %v\n", v)
	debug.PrintStack()
	os.Exit(1)
}

func MustNo(err error) {
	if err != nil {
		Fatal(err)
	}
}

func Assert(condition bool) {
	if !condition {
		Fatal("Assert Failed")
	}
}

func Read[T any](data []byte, order binary.ByteOrder) (val T) {
	reader := bytes.NewReader(data)
	err := binary.Read(reader, order, &val)

	MustNo(err)

	return val
}

func Write[T any](data []byte, order binary.ByteOrder, val T) {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, order, val)
	MustNo(err)
	copy(data, buf.Bytes())
}

func AlignTo(val uint64, align uint64) uint64 {
	if align == 0 {
		return val
	}
	return (val + align - 1) / align * align
}

func RemoveIf[T any](elems []T, condition func(T) bool) []T {
	i := 0
	for _, elem := range elems {
		if condition(elem) {
			continue
		}
		elems[i] = elem
		i++
	}
	return elems[:i]
}
