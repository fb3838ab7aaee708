package uuid

import (
	guuid "github.com/google/uuid"
)

// Generator labels sessions
type Generator interface {
	NewString() string
}

type generatorImpl struct{}

func (g *generatorImpl) NewString() string {
	return guuid.New().String()
}

// NewGenerator returns a generator of random version 4 uuids
func NewGenerator() Generator {
	return &generatorImpl{}
}

// ConstGenerator always returns the same id
type ConstGenerator struct {
	uid string
}

func NewConstGenerator(uid string) *ConstGenerator {
	return &ConstGenerator{uid: uid}
}

func (g *ConstGenerator) NewString() string {
	return g.uid
}
