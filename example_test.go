package mcdump_test

import (
	"bytes"
	"context"
	"fmt"
	"log"

	"github.com/pior/mcdump"
)

func ExampleNewDumper() {
	config := mcdump.DefaultConfig()
	config.OutputDir = "/var/lib/mcdump"
	config.Hosts = []string{"10.0.0.1:11211"}
	config.AllHosts = []string{"10.0.0.1:11211", "10.0.0.2:11211"}
	if err := config.Validate(); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	dumper, err := mcdump.NewDumper(ctx, config)
	if err != nil {
		log.Fatal(err)
	}
	defer dumper.Close()

	summary, err := dumper.Run(ctx)
	if err != nil {
		log.Print(err)
	}
	fmt.Println(summary.Stats.KeysDumped, "keys in", len(summary.Files), "files")
}

func ExampleRecordReader() {
	rec := mcdump.NewKeyRecord("user:42", 0)
	rec.SetValue(7, []byte("hello"))
	data := mcdump.AppendRecord(nil, rec)

	rr := mcdump.NewRecordReader(bytes.NewReader(data))
	got, err := rr.Next()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(got.Key, got.Flags, string(got.Value))
	// Output: user:42 7 hello
}
