// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package syncx

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"testing/synctest"

	"go.astrophena.name/xlgit/testutil"
)

func TestProtected(t *testing.T) {
	t.Parallel()

	t.Run("access", func(t *testing.T) {
		p := Protect(42)
		var result int
		p.WriteAccess(func(val int) {
			result = val
		})
		testutil.AssertEqual(t, result, 42)
	})

	t.Run("concurrent access", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			var i int
			p := Protect(&i)
			for range 100 {
				go p.WriteAccess(func(val *int) {
					*val++
				})
			}
			synctest.Wait()

			var result int
			p.WriteAccess(func(val *int) { result = *val })
			testutil.AssertEqual(t, result, 100)
		})
	})
}

func TestLazy(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var l Lazy[int]
		var count int
		var mu sync.Mutex

		f := func() int {
			mu.Lock()
			defer mu.Unlock()
			count++
			return count
		}

		testutil.AssertEqual(t, l.Get(f), 1)
		testutil.AssertEqual(t, l.Get(f), 1)
		testutil.AssertEqual(t, count, 1)

		var l2 Lazy[string]
		f2 := func() (string, error) {
			return "", errors.New("something went wrong")
		}
		for range 2 {
			v, err := l2.GetErr(f2)
			testutil.AssertEqual(t, v, "")
			if err == nil {
				t.Fatal("err must not be nil")
			}
		}
	})
}

func TestWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			fmt.Fprintf(w, "line %02d\n", i)
		})
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	testutil.AssertEqual(t, len(lines), 50)
	for _, line := range lines {
		if len(line) != len("line 00") || !strings.HasPrefix(line, "line ") {
			t.Fatalf("interleaved write: %q", line)
		}
	}
}
