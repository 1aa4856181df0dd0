package dataset

import "fmt"

// TrainPerClass is the number of training nodes drawn from every class.
const TrainPerClass = 20

// SplitQuota is a declarative per-class split rule. Val and Test map a class
// index to a fixed node count. When Test is nil every node left after the
// train and val slices goes to test.
type SplitQuota struct {
	Train int
	Val   map[int]int
	Test  map[int]int

	// UniformVal applies to every class when Val is nil.
	UniformVal int
}

// ValCount returns the number of validation nodes requested for class c.
func (q SplitQuota) ValCount(c int) (int, error) {
	if q.Val == nil {
		return q.UniformVal, nil
	}
	n, ok := q.Val[c]
	if !ok {
		return 0, fmt.Errorf("no validation quota for class %d", c)
	}
	return n, nil
}

// TestCount returns the number of test nodes requested for class c given
// the number of class members left after the train and val slices.
func (q SplitQuota) TestCount(c, remaining int) (int, error) {
	if q.Test == nil {
		return max(remaining, 0), nil
	}
	n, ok := q.Test[c]
	if !ok {
		return 0, fmt.Errorf("no test quota for class %d", c)
	}
	return n, nil
}

// Per-class counts from the raw planetoid splits.
var quotas = map[Kind]SplitQuota{
	Cora: {
		Train: TrainPerClass,
		Val:   map[int]int{0: 61, 1: 36, 2: 78, 3: 158, 4: 81, 5: 57, 6: 29},
		Test:  map[int]int{0: 130, 1: 91, 2: 144, 3: 319, 4: 149, 5: 103, 6: 64},
	},
	Citeseer: {
		Train: TrainPerClass,
		Val:   map[int]int{0: 29, 1: 86, 2: 116, 3: 106, 4: 94, 5: 69},
		Test:  map[int]int{0: 77, 1: 182, 2: 181, 3: 231, 4: 169, 5: 160},
	},
	AmazonPhoto: {
		Train:      TrainPerClass,
		UniformVal: 30,
	},
	AmazonComputer: {
		Train:      TrainPerClass,
		UniformVal: 30,
	},
}
