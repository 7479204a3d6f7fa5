package routing

import (
	"context"
	"testing"
	"time"

	"github.com/kadnode/kadnode/identifier"
)

type stubPinger struct{ alive bool }

func (s stubPinger) Ping(ctx context.Context, c Contact) bool { return s.alive }

func TestTableUpdateBucketIndexInvariant(t *testing.T) {
	self := mustID(t, "self")
	table := New(self, 160, DefaultK, nil)

	for i := 0; i < 200; i++ {
		other, _ := identifier.Random(160)
		table.Update(context.Background(), Contact{NodeID: other, LastSeen: time.Now()}, nil)
	}

	for idx := 0; idx < 160; idx++ {
		for _, c := range table.BucketContacts(idx) {
			got, ok, err := identifier.BucketIndex(self, c.NodeID)
			if err != nil {
				t.Fatal(err)
			}
			if !ok || got != idx {
				t.Fatalf("contact in bucket %d actually belongs in bucket %d", idx, got)
			}
		}
	}
}

func TestTableFullBucketEvictionWithLiveHead(t *testing.T) {
	self := mustID(t, "self")
	table := New(self, 160, 20, nil)
	const bucketIdx = 159

	var head Contact
	for i := 0; i < 20; i++ {
		other, err := identifier.RandomInBucket(self, bucketIdx)
		if err != nil {
			t.Fatal(err)
		}
		c := Contact{NodeID: other, LastSeen: time.Now()}
		if i == 0 {
			head = c
		}
		updated, err := table.Update(context.Background(), c, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !updated {
			t.Fatalf("expected contact %d to be added", i)
		}
	}
	if table.BucketLen(bucketIdx) != 20 {
		t.Fatalf("expected full bucket, got %d", table.BucketLen(bucketIdx))
	}

	newcomer, err := identifier.RandomInBucket(self, bucketIdx)
	if err != nil {
		t.Fatal(err)
	}
	updated, err := table.Update(context.Background(), Contact{NodeID: newcomer, LastSeen: time.Now()}, stubPinger{alive: true})
	if err != nil {
		t.Fatal(err)
	}
	if updated {
		t.Fatal("expected newcomer to be rejected when head responds to ping")
	}

	for _, c := range table.BucketContacts(bucketIdx) {
		if c.Equal(Contact{NodeID: newcomer}) {
			t.Fatal("newcomer should not be in the bucket")
		}
	}
	tail, ok := table.BucketContacts(bucketIdx)[19], true
	_ = ok
	if !tail.Equal(head) {
		t.Fatal("expected original head to be refreshed to the tail")
	}
	if tail.PingStats.PingCount != 1 || tail.PingStats.SuccessCount != 1 {
		t.Fatalf("expected refreshed head to record one successful ping, got %+v", tail.PingStats)
	}
	if tail.PingStats.Reliability() != 1.0 {
		t.Fatalf("expected reliability 1.0 after one successful ping, got %f", tail.PingStats.Reliability())
	}
}

func TestTableFullBucketEvictionWithDeadHead(t *testing.T) {
	self := mustID(t, "self")
	table := New(self, 160, 20, nil)
	const bucketIdx = 100

	var head Contact
	for i := 0; i < 20; i++ {
		other, _ := identifier.RandomInBucket(self, bucketIdx)
		c := Contact{NodeID: other, LastSeen: time.Now()}
		if i == 0 {
			head = c
		}
		table.Update(context.Background(), c, nil)
	}

	newcomer, _ := identifier.RandomInBucket(self, bucketIdx)
	updated, err := table.Update(context.Background(), Contact{NodeID: newcomer, LastSeen: time.Now()}, stubPinger{alive: false})
	if err != nil {
		t.Fatal(err)
	}
	if !updated {
		t.Fatal("expected newcomer to be added when head fails to respond")
	}

	contacts := table.BucketContacts(bucketIdx)
	for _, c := range contacts {
		if c.Equal(head) {
			t.Fatal("expected dead head to be evicted")
		}
	}
	found := false
	for _, c := range contacts {
		if c.Equal(Contact{NodeID: newcomer}) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected newcomer to be present after eviction")
	}
}

func TestTableClosestOrdering(t *testing.T) {
	self := mustID(t, "self")
	table := New(self, 160, DefaultK, nil)

	for i := 0; i < 100; i++ {
		other, _ := identifier.Random(160)
		table.Update(context.Background(), Contact{NodeID: other, LastSeen: time.Now()}, nil)
	}

	target, _ := identifier.Random(160)
	closest := table.Closest(target, 20)
	if len(closest) == 0 {
		t.Fatal("expected at least one contact")
	}
	for i := 1; i < len(closest); i++ {
		dPrev, _ := identifier.Distance(target, closest[i-1].NodeID)
		dCur, _ := identifier.Distance(target, closest[i].NodeID)
		if identifier.LessDistance(dCur, dPrev) {
			t.Fatalf("closest() not sorted at index %d", i)
		}
	}
}

func TestTableTotalNodeCountAndAllContacts(t *testing.T) {
	self := mustID(t, "self")
	table := New(self, 160, DefaultK, nil)

	if table.TotalNodeCount() != 0 {
		t.Fatalf("expected empty table, got %d", table.TotalNodeCount())
	}
	if len(table.AllContacts()) != 0 {
		t.Fatal("expected no contacts in an empty table")
	}

	inserted := 0
	for i := 0; i < 50; i++ {
		other, _ := identifier.Random(160)
		added, _ := table.Update(context.Background(), Contact{NodeID: other, LastSeen: time.Now()}, nil)
		if added {
			inserted++
		}
	}

	if table.TotalNodeCount() != inserted {
		t.Fatalf("expected TotalNodeCount %d, got %d", inserted, table.TotalNodeCount())
	}
	if len(table.AllContacts()) != inserted {
		t.Fatalf("expected AllContacts len %d, got %d", inserted, len(table.AllContacts()))
	}
}
