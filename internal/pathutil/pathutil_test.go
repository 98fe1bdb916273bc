package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDropsCurDir(t *testing.T) {
	assert.Equal(t, "a", Normalize("./././a"))
}

func TestNormalizePreservesParentDir(t *testing.T) {
	assert.Equal(t, "../../a", Normalize("./../.././a"))
}

func TestNormalizeEmptyBecomesDot(t *testing.T) {
	assert.Equal(t, ".", Normalize("."))
	assert.Equal(t, ".", Normalize("./."))
}

func TestNormalizeIsIdempotent(t *testing.T) {
	for _, p := range []string{"./././a", "./../.././a", ".", "a/b/c", "../x"} {
		once := Normalize(p)
		twice := Normalize(once)
		assert.Equal(t, once, twice, "normalize(normalize(%q)) should equal normalize(%q)", p, p)
	}
}

func TestNormalizePreservesAbsolute(t *testing.T) {
	assert.Equal(t, "/a/b", Normalize("/a/./b"))
}

func TestAbsolutePath(t *testing.T) {
	assert.Equal(t, "root/a", AbsolutePath("root", "./a"))
	assert.Equal(t, "/abs/a", AbsolutePath("root", "/abs/a"))
}
