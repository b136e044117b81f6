package forexfactory

import (
	"ffcal/lib/telemetry"
)

var tracer = telemetry.Tracer("scrapers/forexfactory")
