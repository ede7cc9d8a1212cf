package app

const (
	Name           = "sx127xd"
	ConfigFilename = "config.json"
	DBFilename     = "framelog.db"
	LogFilename    = "sx127xd.log"
)
