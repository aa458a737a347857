// Command mutation-generator pushes synthetic conversation activity into a
// running msgtap server's in-memory host.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/V4T54L/msgtap/internal/client"
	"github.com/V4T54L/msgtap/internal/domain"
)

// generator produces mutations for one worker. Each worker owns its
// conversations, so read receipts and deletes always target messages the
// host has already seen.
type generator struct {
	fake    *gofakeit.Faker
	convs   []string
	titles  map[string]string
	users   []string
	self    string
	pending map[string][]domain.Message // unread messages per conversation
}

func newGenerator(worker, convs, users int, self string, seed int64) *generator {
	g := &generator{
		fake:    gofakeit.New(seed),
		self:    self,
		titles:  make(map[string]string),
		pending: make(map[string][]domain.Message),
	}
	for i := range convs {
		id := fmt.Sprintf("conv-%d-%d", worker, i)
		g.convs = append(g.convs, id)
		g.titles[id] = g.fake.AppName()
	}
	for range users {
		g.users = append(g.users, g.fake.Username())
	}
	return g
}

func (g *generator) pick(n int) int {
	return g.fake.Number(0, n-1)
}

// next returns a new message about 70% of the time, otherwise a read
// receipt or a delete for a pending message.
func (g *generator) next() domain.Mutation {
	conv := g.convs[g.pick(len(g.convs))]
	pending := g.pending[conv]

	roll := g.pick(10)
	switch {
	case roll < 7 || len(pending) == 0:
		msg := domain.Message{
			ID:       uuid.NewString(),
			SenderID: g.users[g.pick(len(g.users))],
			Text:     g.fake.Sentence(g.fake.Number(3, 12)),
		}
		g.pending[conv] = append(pending, msg)
		return domain.Mutation{ConversationID: conv, Title: g.titles[conv], Messages: []domain.Message{msg}}
	case roll < 9:
		msg := pending[0]
		g.pending[conv] = pending[1:]
		msg.ReadBy = append(msg.ReadBy, g.self)
		return domain.Mutation{ConversationID: conv, Messages: []domain.Message{msg}}
	default:
		msg := pending[0]
		g.pending[conv] = pending[1:]
		return domain.Mutation{ConversationID: conv, DeleteMessageIDs: []string{msg.ID}}
	}
}

func main() {
	server := flag.String("url", "http://localhost:8080", "Base URL of the msgtap server")
	apiKey := flag.String("api-key", "", "API Key for authentication")
	concurrency := flag.Int("c", 4, "Number of concurrent workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the run")
	rps := flag.Int("rps", 50, "Requests per second limit")
	batch := flag.Int("batch", 1, "Mutations per request (sent as NDJSON)")
	convs := flag.Int("convs", 3, "Conversations per worker")
	users := flag.Int("users", 10, "Number of distinct senders")
	self := flag.String("self", "self", "Session user id that marks messages read")
	seed := flag.Int64("seed", 0, "Random seed (0 picks one from the clock)")
	flag.Parse()

	log.Printf("Starting mutation generator against %s", *server)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d, Batch: %d", *concurrency, *duration, *rps, *batch)

	var wg sync.WaitGroup
	var requests, applied, errorCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	limiter := rate.NewLimiter(rate.Limit(*rps), max(*rps/10, 1))
	c := client.New(*server, *apiKey, nil)

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			g := newGenerator(workerID, max(*convs, 1), max(*users, 1), *self, *seed+int64(workerID))

			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				mutations := make([]domain.Mutation, 0, *batch)
				for range max(*batch, 1) {
					mutations = append(mutations, g.next())
				}

				n, err := c.PushMutations(ctx, mutations)
				requests.Add(1)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					errorCount.Add(1)
					continue
				}
				applied.Add(int64(n))
			}
		}(i)
	}

	wg.Wait()

	actualRPS := float64(requests.Load()) / duration.Seconds()

	log.Println("Mutation generator finished.")
	log.Printf("Total Requests: %d", requests.Load())
	log.Printf("Mutations applied: %d", applied.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Actual RPS: %.2f", actualRPS)
}
