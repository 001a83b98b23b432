package store

import (
	"encoding/json"

	"github.com/shao3d/Experts-panel-sub000/pkg/model"
)

// decodeDriftTopics parses the topics_json column. An empty string decodes
// to a nil slice rather than an error, since has_drift=false rows store no
// topics.
func decodeDriftTopics(raw string) ([]model.DriftTopic, error) {
	if raw == "" {
		return nil, nil
	}
	var topics []model.DriftTopic
	if err := json.Unmarshal([]byte(raw), &topics); err != nil {
		return nil, err
	}
	return topics, nil
}

func encodeDriftTopics(topics []model.DriftTopic) (string, error) {
	if len(topics) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(topics)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
