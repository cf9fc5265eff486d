package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscardPoolFreesInStampOrder(t *testing.T) {
	p := NewDiscardPool()
	a := &Texture{Name: "a", Handle: 1}
	b := &Texture{Name: "b", Handle: 2}
	c := &Texture{Name: "c", Handle: 3}
	p.DiscardTexture(a, 1)
	p.DiscardTexture(b, 2)
	p.DiscardTexture(c, 3)

	var freed []string
	free := func(tex *Texture) { freed = append(freed, tex.Name) }

	assert.Equal(t, 0, p.Destroy(0, free))
	assert.Equal(t, 2, p.Destroy(2, free))
	assert.Equal(t, []string{"a", "b"}, freed)
	assert.Equal(t, 1, p.Len())
}

func TestDiscardPoolMoveRestamps(t *testing.T) {
	ctxPool := NewDiscardPool()
	orphaned := NewDiscardPool()
	ctxPool.DiscardTexture(&Texture{Name: "a", Handle: 1}, 0)
	ctxPool.DiscardTexture(&Texture{Name: "b", Handle: 2}, 0)

	ctxPool.MoveTo(orphaned, 5)
	assert.Equal(t, 0, ctxPool.Len())
	assert.Equal(t, 2, orphaned.Len())

	n := orphaned.Destroy(4, func(*Texture) {})
	assert.Equal(t, 0, n)
	n = orphaned.Destroy(5, func(*Texture) {})
	assert.Equal(t, 2, n)
}
