package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListing_Identity(t *testing.T) {
	a := Listing{Title: "  Go Developer ", Company: "ACME", JobURL: "https://x/1 "}
	b := Listing{Title: "go developer", Company: "acme", JobURL: "https://x/1", Location: "Berlin"}
	c := Listing{Title: "go developer", Company: "acme", JobURL: "https://X/1"}

	assert.Equal(t, a.Identity(), b.Identity())
	assert.Equal(t, a.Identity().Key(), b.Identity().Key())
	assert.NotEqual(t, a.Identity().Key(), c.Identity().Key(), "url is compared verbatim")
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Normalize("STRASSE"), Normalize("Straße"))
	assert.Equal(t, "senior engineer", Normalize("  Senior ENGINEER "))
	assert.Equal(t, "", Normalize("   "))
}

func TestCycleResult_SetError(t *testing.T) {
	var r CycleResult
	assert.False(t, r.Failed())

	r.SetError(assert.AnError)
	assert.True(t, r.Failed())
	assert.Equal(t, assert.AnError.Error(), r.Error)
}
