package main

import "github.com/sirupsen/logrus"

// staticFields stamps the configured logging.fields on every entry that does
// not already carry them.
type staticFields map[string]interface{}

func (h staticFields) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h staticFields) Fire(entry *logrus.Entry) error {
	for k, v := range h {
		if _, ok := entry.Data[k]; !ok {
			entry.Data[k] = v
		}
	}
	return nil
}
