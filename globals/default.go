package globals

import "github.com/hashicorp/go-hclog"

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "queue-coordinator",
	Level: hclog.LevelFromString("DEBUG"),
})
