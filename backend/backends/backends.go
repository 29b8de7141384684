// Package backends imports every built-in backend so a single blank import
// registers them all with the default registry:
//
//	import _ "github.com/drblury/pulsehub/backend/backends"
package backends

import (
	_ "github.com/drblury/pulsehub/backend/kafka"
	_ "github.com/drblury/pulsehub/backend/memory"
	_ "github.com/drblury/pulsehub/backend/nats"
	_ "github.com/drblury/pulsehub/backend/rabbitmq"
)
