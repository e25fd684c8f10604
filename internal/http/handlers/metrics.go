package handlers

import "github.com/prometheus/client_golang/prometheus"

// messagesPosted counts accepted board posts (not shadowbanned, not
// rejected by moderation). Rate this over time for a messages/sec figure.
var messagesPosted = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "board_messages_posted_total",
	Help: "Total number of board posts accepted and persisted.",
})

// contactReveals counts successful phone-number reveals.
var contactReveals = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "board_contact_reveals_total",
	Help: "Total number of successful contact reveals.",
})

// rejections counts requests that were turned away, by category: the
// moderation category when moderation rejected the post, or a fixed label
// for the other reject points in the pipeline.
var rejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "board_rejections_total",
		Help: "Total number of rejected board posts, by category.",
	},
	[]string{"category"},
)

func init() {
	prometheus.MustRegister(messagesPosted, contactReveals, rejections)
}
