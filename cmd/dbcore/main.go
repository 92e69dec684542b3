// Command dbcore is a smoke-test / demo binary wiring the storage, index,
// txn and lock packages together: buffer pool + B+-tree insert/search, then
// two transactions taking table and row locks under the lock manager.
// Grounded on the teacher's examples/basic/basic_usage.go: a sequence of
// labelled sections, each failing fast with log.Fatal.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mnohosten/diskcore/pkg/index"
	"github.com/mnohosten/diskcore/pkg/lock"
	"github.com/mnohosten/diskcore/pkg/storage"
	"github.com/mnohosten/diskcore/pkg/txn"
)

func main() {
	fmt.Println("=== Buffer Pool + B+-Tree ===")
	bpm := bufferPoolExample()

	fmt.Println("\n=== Lock Manager + Transactions ===")
	lockManagerExample()

	fmt.Printf("\nbuffer pool stats: %+v\n", bpm.Stats())
}

func bufferPoolExample() *storage.BufferPoolManager {
	path := "./dbcore_demo.db"
	defer os.Remove(path)

	disk, err := storage.NewDiskManager(path)
	if err != nil {
		log.Fatal(err)
	}
	defer disk.Close()

	bpm := storage.NewBufferPoolManager(disk, storage.DefaultBufferPoolConfig())

	tree, err := index.NewBPlusTree(bpm)
	if err != nil {
		log.Fatal(err)
	}

	for i := int64(0); i < 50; i++ {
		rid := storage.RID{PageID: storage.PageID(i / 10), SlotNum: uint32(i % 10)}
		if err := tree.Insert(i, rid); err != nil {
			log.Fatal(err)
		}
	}

	rid, err := tree.Search(17)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("search(17) -> %+v\n", rid)

	height, err := tree.Height()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("tree height: %d\n", height)

	if err := tree.Delete(17); err != nil {
		log.Fatal(err)
	}
	if _, err := tree.Search(17); err == nil {
		log.Fatal("expected key 17 to be gone after delete")
	}
	fmt.Println("delete(17) confirmed")

	return bpm
}

func lockManagerExample() {
	txnMgr := txn.NewManager()
	lockMgr := lock.NewManager(txnMgr)
	lockMgr.StartCycleDetection(50 * time.Millisecond)
	defer lockMgr.StopCycleDetection()

	ordersTable := txn.TableOID(1)
	row := txn.RowID{Table: ordersTable, Row: 42}

	reader := txnMgr.Begin(txn.RepeatableRead)
	if err := lockMgr.LockTable(reader, lock.IntentionShared, ordersTable); err != nil {
		log.Fatal(err)
	}
	if err := lockMgr.LockRow(reader, lock.Shared, ordersTable, row); err != nil {
		log.Fatal(err)
	}
	fmt.Println("reader holds S on row 42")

	writer := txnMgr.Begin(txn.RepeatableRead)
	if err := lockMgr.LockTable(writer, lock.IntentionExclusive, ordersTable); err != nil {
		log.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- lockMgr.LockRow(writer, lock.Exclusive, ordersTable, row)
	}()

	select {
	case err := <-done:
		log.Fatalf("writer should have blocked, got %v", err)
	case <-time.After(20 * time.Millisecond):
		fmt.Println("writer correctly blocked behind reader's S lock")
	}

	lockMgr.UnlockAll(reader)
	txnMgr.Commit(reader)

	if err := <-done; err != nil {
		log.Fatal(err)
	}
	fmt.Println("writer acquired X on row 42 after reader released")

	lockMgr.UnlockAll(writer)
	txnMgr.Commit(writer)
}
