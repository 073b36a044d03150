package timestamp_test

import (
	"fmt"
	"time"

	"github.com/c360/phasorstreams/pkg/timestamp"
)

// ExampleFromSOC decodes a frame time tag with a microsecond time base
func ExampleFromSOC() {
	t := timestamp.FromSOC(1673785845, 500000, 1_000_000)
	fmt.Println(timestamp.Format(t))

	// Output:
	// 2023-01-15T12:30:45.5Z
}

// ExampleAlignToRate rounds a receive time to the nearest 30 fps frame
func ExampleAlignToRate() {
	t := time.Date(2023, 1, 15, 12, 30, 45, 34_000_000, time.UTC)
	aligned := timestamp.AlignToRate(t, 30)
	fmt.Println(timestamp.Format(aligned), timestamp.FrameIndex(t, 30))

	// Output:
	// 2023-01-15T12:30:45.033333333Z 1
}
