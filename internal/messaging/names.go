package messaging

import "strings"

// StreamName turns a source name such as "iot-queue" into a valid
// JetStream stream name ("IOT_QUEUE").
func StreamName(name string) string {
	r := strings.NewReplacer("-", "_", ".", "_", " ", "_", "*", "_", ">", "_")
	return strings.ToUpper(r.Replace(name))
}

// Subject turns a source name into a subject token ("iot-queue" stays
// "iot-queue", "a.b" becomes "a_b").
func Subject(name string) string {
	r := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	return r.Replace(name)
}
