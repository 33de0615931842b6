package ir

import "testing"

func testCounter() (*Module, Builder) {
	m := NewModule()
	return m, NewBuilder(m)
}

func TestBuildParents(t *testing.T) {
	_, b := testCounter()
	inner := b.MakeConstI32(1)
	drop := b.MakeDrop(inner)
	body := b.MakeBlock([]Expr{drop})

	parents := BuildParents(body)
	if parents.Parent(body) != nil {
		t.Fatal("root must have no parent")
	}
	if parents.Parent(drop) != body {
		t.Fatal("drop's parent should be the block")
	}
	if parents.Parent(inner) != drop {
		t.Fatal("const's parent should be the drop")
	}
	if parents.Parent(b.MakeConstI32(2)) != nil {
		t.Fatal("unknown expressions report nil")
	}
}

func TestPostWalk_Replace(t *testing.T) {
	_, b := testCounter()
	var body Expr = b.MakeDrop(b.MakeConstI32(1))
	PostWalk(&body, func(slot *Expr) {
		if c, ok := (*slot).(*Const); ok && c.Value.I32 == 1 {
			*slot = b.MakeConstI32(2)
		}
	})
	drop := body.(*Drop)
	if drop.Value.(*Const).Value.I32 != 2 {
		t.Fatal("replacement through the slot did not stick")
	}
}

func TestBranchTargets(t *testing.T) {
	_, b := testCounter()
	br := &Break{Name: "out", Value: b.MakeConstI32(1)}
	blk := &Block{Name: "out", List: []Expr{br, b.MakeConstI32(2)}}
	blk.Typ = I32

	bt := BuildBranchTargets(blk)
	if bt.Target("out") != blk {
		t.Fatal("block should define its name")
	}
	branches := bt.Branches("out")
	if len(branches) != 1 || branches[0] != br {
		t.Fatalf("expected the single br, got %v", branches)
	}
	if SentValue(br) != br.Value {
		t.Fatal("sent value should be the br's value")
	}
	names := SentBranches(br, br.Value)
	if len(names) != 1 || names[0] != "out" {
		t.Fatalf("expected [out], got %v", names)
	}
}

func TestImmediateFallthrough(t *testing.T) {
	_, b := testCounter()
	last := b.MakeConstI32(3)
	blk := b.MakeBlock([]Expr{b.MakeDrop(b.MakeConstI32(1)), last})
	bt := BuildBranchTargets(blk)
	if ImmediateFallthrough(blk, bt) != last {
		t.Fatal("block falls through its last element")
	}

	// A branched-to block has no single fallthrough.
	br := &Break{Name: "x", Value: b.MakeConstI32(1)}
	named := &Block{Name: "x", List: []Expr{br, last}}
	named.Typ = I32
	bt = BuildBranchTargets(named)
	if ImmediateFallthrough(named, bt) != named {
		t.Fatal("branched-to block must not report a fallthrough")
	}

	tee := b.MakeLocalTee(0, last, I32)
	bt = BuildBranchTargets(tee)
	if ImmediateFallthrough(tee, bt) != last {
		t.Fatal("tee falls through its value")
	}
}
