package burst

import (
	"time"

	"github.com/abworrall/burstfuse/pkg/emath"
)

var zeroTime time.Time

func identity() emath.Mat3 { return emath.Identity() }
