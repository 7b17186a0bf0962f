// Package ros bridges the recorder to ROS: joint message types, topic names, and the transports
// that deliver them (an in-process bus, a rosbridge websocket client and rosbag replay).
package ros

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/edaniels/gobag/rosbag"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// BagMessage is one message read from a rosbag, in the JSON form gobag produces.
type BagMessage struct {
	Topic string
	// Recorded is when the bag recorded the message.
	Recorded Time
	Data     json.RawMessage
}

type bagRecord struct {
	Meta Time            `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// ReadBag reads the contents of a rosbag into a gobag data structure.
func ReadBag(filename string) (*rosbag.RosBag, error) {
	//nolint:gosec
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open input file")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	rb := rosbag.NewRosBag()

	if err := rb.Read(f); err != nil {
		return nil, errors.Wrapf(err, "unable to create ros bag, error")
	}

	return rb, nil
}

// MessagesForTopics returns the messages of the given topics, merged and sorted by record time.
// Messages recorded at the same instant keep their per-topic order.
func MessagesForTopics(rb *rosbag.RosBag, topics []string) ([]BagMessage, error) {
	wanted := make(map[string]bool, len(topics))
	for _, topic := range topics {
		wanted[topic] = true
	}
	if err := rb.ParseTopicsToJSON(
		"",
		func(int64) bool { return true },
		func(t string) bool { return wanted[t] },
		false,
	); err != nil {
		return nil, errors.Wrapf(err, "error while parsing bag to JSON")
	}

	var all []BagMessage
	for _, topic := range topics {
		msgs, ok := rb.TopicsAsJSON[bagTopicKey(topic)]
		if !ok || msgs == nil {
			continue
		}
		parsed, err := parseTopicJSON(topic, msgs)
		if err != nil {
			return nil, err
		}
		all = append(all, parsed...)
	}
	sortByRecorded(all)
	return all, nil
}

// bagTopicKey is the key gobag files a topic's messages under in TopicsAsJSON: no leading slash,
// the remaining slashes replaced by underscores, lowercased.
func bagTopicKey(topic string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(topic, "/"), "/", "_"))
}

// parseTopicJSON splits gobag's newline delimited output for one topic.
func parseTopicJSON(topic string, msgs *bytes.Buffer) ([]BagMessage, error) {
	var parsed []BagMessage
	for {
		data, err := msgs.ReadBytes('\n')
		if len(bytes.TrimSpace(data)) > 0 {
			var record bagRecord
			if jsonErr := json.Unmarshal(data, &record); jsonErr != nil {
				return nil, errors.Wrapf(jsonErr, "decoding bag message on %s", topic)
			}
			parsed = append(parsed, BagMessage{Topic: topic, Recorded: record.Meta, Data: record.Data})
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return parsed, nil
			}
			return nil, err
		}
	}
}
