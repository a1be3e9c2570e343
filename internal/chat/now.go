package chat

import "time"

// nowFunc is a seam so tests can pin the mirror's clock.
var nowFunc = time.Now
