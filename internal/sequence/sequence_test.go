package sequence

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type counterQuerier struct {
	mu       sync.Mutex
	counters map[string]int64
}

type counterRow struct {
	value int64
}

func (r counterRow) Scan(dest ...any) error {
	*(dest[0].(*int64)) = r.value
	return nil
}

func (q *counterQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.counters == nil {
		q.counters = make(map[string]int64)
	}
	key := args[0].(string)
	q.counters[key]++
	return counterRow{value: q.counters[key]}
}

func TestNextFormatsNumber(t *testing.T) {
	gen := NewGenerator(4)
	q := &counterQuerier{}
	at := time.Date(2026, time.August, 14, 10, 0, 0, 0, time.UTC)

	num, err := gen.Next(context.Background(), q, DocTypePR, at)
	require.NoError(t, err)
	require.Equal(t, "PR2608-0001", num)

	num, err = gen.Next(context.Background(), q, DocTypePR, at)
	require.NoError(t, err)
	require.Equal(t, "PR2608-0002", num)

	num, err = gen.Next(context.Background(), q, DocTypeGRN, at)
	require.NoError(t, err)
	require.Equal(t, "GRN2608-0001", num)
}

func TestNextConcurrentMonotonic(t *testing.T) {
	gen := NewGenerator(6)
	q := &counterQuerier{}
	at := time.Date(2026, time.January, 2, 0, 0, 0, 0, time.UTC)

	const workers = 50
	results := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := gen.Next(context.Background(), q, DocTypeMovement, at)
			require.NoError(t, err)
			results <- num
		}()
	}
	wg.Wait()
	close(results)

	var numbers []string
	for num := range results {
		numbers = append(numbers, num)
	}
	require.Len(t, numbers, workers)
	sort.Strings(numbers)
	for i := 1; i < len(numbers); i++ {
		require.NotEqual(t, numbers[i-1], numbers[i])
	}
	require.Equal(t, "MOV2601-000001", numbers[0])
	require.Equal(t, "MOV2601-000050", numbers[len(numbers)-1])
}

func TestFormatPadding(t *testing.T) {
	require.Equal(t, "PO2512-0103", Format(DocTypePO, 25, 12, 103, 4))
	require.Equal(t, "MOV2601-15", Format(DocTypeMovement, 26, 1, 15, 1))
}
