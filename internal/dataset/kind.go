// Package dataset provides the recognized dataset kinds, their split
// quotas, the on-disk loader and the one-hot preprocessor.
package dataset

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownDataset is returned for dataset identifiers outside the closed set.
var ErrUnknownDataset = errors.New("unknown dataset")

// Kind identifies one of the recognized datasets.
type Kind int

const (
	Cora Kind = iota + 1
	Citeseer
	AmazonPhoto
	AmazonComputer
)

var kindNames = map[Kind]string{
	Cora:           "cora",
	Citeseer:       "citeseer",
	AmazonPhoto:    "amazon_photo",
	AmazonComputer: "amazon_computer",
}

// Kinds returns every recognized kind in declaration order.
func Kinds() []Kind {
	return []Kind{Cora, Citeseer, AmazonPhoto, AmazonComputer}
}

// Names returns the identifiers of every recognized kind, sorted.
func Names() []string {
	names := make([]string, 0, len(kindNames))
	for _, n := range kindNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseKind resolves a dataset identifier.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDataset, name)
}

// String returns the dataset identifier.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// HasNativeSplit reports whether the raw dataset ships with a
// train/val/test split. Kinds without one get masks from their SplitQuota.
func (k Kind) HasNativeSplit() bool {
	return k == Cora || k == Citeseer
}

// Quota returns the per-class split quota table of the kind.
func (k Kind) Quota() SplitQuota {
	return quotas[k]
}
