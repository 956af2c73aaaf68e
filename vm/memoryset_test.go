package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bariona/peaCore/mem"
)

func TestFromExistedUserIsASnapshot(t *testing.T) {
	mem.GlobalAllocator.Init(0, 4096)

	parent := NewBare()
	parent.InsertFramedArea(VirtAddr(0x10000), VirtAddr(0x12000), PTERead|PTEWrite|PTEUser)
	ppte, ok := parent.Translate(VirtAddr(0x10000).Floor())
	require.True(t, ok)
	copy(pageBytes(ppte.PPN()), []byte("snapshot"))

	child := FromExistedUser(parent)
	cpte, ok := child.Translate(VirtAddr(0x10000).Floor())
	require.True(t, ok)
	assert.NotEqual(t, ppte.PPN(), cpte.PPN(), "fork must allocate fresh frames")
	assert.Equal(t, []byte("snapshot"), pageBytes(cpte.PPN())[:8])

	copy(pageBytes(ppte.PPN()), []byte("mutated!"))
	assert.Equal(t, []byte("snapshot"), pageBytes(cpte.PPN())[:8],
		"a post-fork write in the parent must not show through to the child")
}

func TestExpandSPGrowsTheStackArea(t *testing.T) {
	mem.GlobalAllocator.Init(0, 4096)

	ms := NewBare()
	top := VirtAddr(UserStackTop)
	bottom := VirtAddr(UserStackTop - UserStackSize)
	ms.InsertFramedArea(bottom, top, PTERead|PTEWrite|PTEUser)
	require.Equal(t, uint64(bottom), ms.StackBottom())

	newBottom := uint64(bottom) - 2*PageSize
	require.True(t, ms.ExpandSP(uint64(bottom), newBottom))
	assert.Equal(t, newBottom, ms.StackBottom())

	_, ok := ms.Translate(VirtAddr(newBottom).Floor())
	assert.True(t, ok, "the newly covered pages must be mapped")
}

func TestRemoveAreaWithStartVPN(t *testing.T) {
	mem.GlobalAllocator.Init(0, 4096)

	ms := NewBare()
	start := VirtAddr(0x40000)
	ms.InsertFramedArea(start, start+2*PageSize, PTERead|PTEWrite)
	_, ok := ms.Translate(start.Floor())
	require.True(t, ok)

	require.True(t, ms.RemoveAreaWithStartVPN(start.Floor()))
	_, ok = ms.Translate(start.Floor())
	assert.False(t, ok, "removed area pages must no longer translate")

	assert.False(t, ms.RemoveAreaWithStartVPN(start.Floor()), "removing twice finds nothing")
}

func TestIdenticalAreaMapsVPNToSamePPN(t *testing.T) {
	mem.GlobalAllocator.Init(16, 4096)

	ms := NewBare()
	area := NewMapArea(VirtAddr(0), VirtAddr(4*PageSize), Identical, PTERead|PTEWrite)
	ms.push(area, nil)

	for vpn := VirtPageNum(0); vpn < 4; vpn++ {
		pte, ok := ms.Translate(vpn)
		require.True(t, ok)
		assert.Equal(t, mem.PhysPageNum(vpn), pte.PPN())
	}
}
