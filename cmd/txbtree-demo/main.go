// Load and scan a B+tree index file, seeding it with sequential integer
// keys first if it doesn't exist yet.
// Usage: go run ./cmd/txbtree-demo <path-to-.idx> <num-keys>
// Example: go run ./cmd/txbtree-demo /tmp/demo.idx 5000
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"

	"txbtree/internal/bufferpool"
	"txbtree/internal/config"
	"txbtree/internal/dbiface"
	"txbtree/internal/lockmgr"
	"txbtree/internal/pageid"
	"txbtree/internal/tuple"

	"txbtree/internal/btree"
)

const demoTableID = 1

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <index.idx> <num-keys>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s /tmp/demo.idx 5000\n", os.Args[0])
		os.Exit(1)
	}
	path := os.Args[1]
	n, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: bad key count %q: %v\n", os.Args[2], err)
		os.Exit(1)
	}

	cfg, err := config.Load(path + ".config.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	locks := lockmgr.New()
	locks.Timeout = cfg.LockTimeout
	pool := bufferpool.New(cfg.BufferPoolPages, nil, locks)

	desc := tuple.TupleDesc{Fields: []tuple.FieldDesc{
		{Name: "id", Type: tuple.IntType},
		{Name: "value", Type: tuple.IntType},
	}}
	cat := dbiface.NewInMemoryCatalog()
	cat.Add(demoTableID, desc, 0)

	_, statErr := os.Stat(path)
	seed := os.IsNotExist(statErr)

	bt, err := btree.OpenFromCatalog(path, demoTableID, cat, pool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	pool.SetStore(bt)
	defer bt.Close()

	const tid = pageid.TransactionID(1)
	for i := 0; seed && i < n; i++ {
		t := tuple.Tuple{Desc: desc, Fields: []tuple.Field{
			tuple.IntField{Value: int64(i)},
			tuple.IntField{Value: int64(i * i)},
		}}
		if err := bt.InsertTuple(tid, t); err != nil {
			fmt.Fprintf(os.Stderr, "Error inserting key %d: %v\n", i, err)
			os.Exit(1)
		}
	}

	it, err := bt.NewIterator(tid, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer it.Close()

	count := 0
	for {
		_, ok, err := it.Next()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error scanning: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			break
		}
		count++
	}

	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s: %d tuples, file size %s\n", path, count, humanize.Bytes(uint64(info.Size())))

	if err := config.Save(path+".config.json", cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}
}
