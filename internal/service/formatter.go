package service

import (
	"strings"
	"time"

	"whatsrelay/internal/models"
)

const (
	// TimeLayout renders {time} and the appended timestamp as DD/MM/YYYY HH:mm
	TimeLayout = "02/01/2006 15:04"

	unspecifiedChannel = "unspecified"
)

// Formatter turns a message into the outbound text for a forwarding config
type Formatter struct {
	now func() time.Time
	loc *time.Location
}

// NewFormatter creates a formatter rendering times in loc (local time when nil)
func NewFormatter(loc *time.Location) *Formatter {
	if loc == nil {
		loc = time.Local
	}
	return &Formatter{now: time.Now, loc: loc}
}

// Format renders msg for cfg. A message template takes precedence over the
// appendSourceName and appendTimestamp flags.
func (f *Formatter) Format(msg models.Message, cfg models.ForwardingConfig) string {
	stamp := f.now().In(f.loc).Format(TimeLayout)

	if cfg.MessageTemplate != nil && *cfg.MessageTemplate != "" {
		channel := msg.SourceChannelName
		if channel == "" {
			channel = unspecifiedChannel
		}
		return strings.NewReplacer(
			"{message}", msg.Text,
			"{channel}", channel,
			"{time}", stamp,
		).Replace(*cfg.MessageTemplate)
	}

	text := msg.Text
	if cfg.AppendSourceName && msg.SourceChannelName != "" {
		text = "From: " + msg.SourceChannelName + "\n\n" + text
	}
	if cfg.AppendTimestamp {
		text += "\n\n" + stamp
	}
	return text
}
