package main

import (
	"context"
	"flag"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/listenalong/vchamber/media"
	vsv "github.com/listenalong/vchamber/server"
)

var addr = flag.String("addr", "localhost:5000", "server to stress")
var nPerRoom = flag.Int("nc", 100, "number of clients per room")
var roomID = flag.String("rid", "", "join this room instead of creating one")
var duration = flag.Duration("duration", 30*time.Second, "how long to keep the clients listening")
var jitter = flag.Float64("jitter", 0.03, "max playback rate deviation of simulated clients")

func connect(i int) *vsv.Client {
	c, err := vsv.Connect(nil, "ws://"+*addr+"/ws")
	if err != nil {
		log.Fatal().Err(err).Int("n", i).Msg("connect failed")
	}
	rate := 1 + (rand.Float64()*2-1)*(*jitter)
	c.Player = vsv.NewLocalPlayer(rate, vsv.DefaultSyncThreshold, time.Now())
	go c.Run()
	go c.ClientSendHeartbeat()
	return c
}

func main() {
	flag.Parse()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, cancel := context.WithTimeout(context.Background(), *duration+30*time.Second)
	defer cancel()

	admin := connect(0)
	rid := *roomID
	if rid == "" {
		var err error
		rid, err = admin.CreateRoom(ctx, "stress")
		if err != nil {
			log.Fatal().Err(err).Msg("create room failed")
		}
	}
	if _, err := admin.JoinRoom(ctx, rid); err != nil {
		log.Fatal().Err(err).Str("room", rid).Msg("join failed")
	}
	log.Info().Str("room", rid).Bool("admin", admin.IsAdmin()).Msg("room ready")

	clients := []*vsv.Client{admin}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 1; i < *nPerRoom; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := connect(i)
			if _, err := c.JoinRoom(ctx, rid); err != nil {
				log.Error().Err(err).Int("n", i).Msg("join failed")
				c.Close()
				return
			}
			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	log.Info().Int("clients", len(clients)).Msg("successfully joined clients")

	if admin.IsAdmin() {
		err := admin.SelectSong(media.Item{
			ID:          "stress",
			Title:       "Stress Test",
			PlaybackURL: "https://media.invalid/stress",
			Duration:    duration.Seconds() + 60,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("select song failed")
		}
	}

	deadline := time.After(*duration)
	seek := time.NewTicker(10 * time.Second)
	defer seek.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	for {
		select {
		case <-seek.C:
			if admin.IsAdmin() {
				admin.Seek(rand.Float64() * duration.Seconds())
			}
		case <-report.C:
			logDrift(clients)
		case <-deadline:
			logDrift(clients)
			for _, c := range clients {
				c.Close()
			}
			return
		}
	}
}

func logDrift(clients []*vsv.Client) {
	var worst float64
	corrections := 0
	for _, c := range clients {
		d, n := c.Player.Stats()
		if d > worst {
			worst = d
		}
		corrections += n
	}
	log.Info().Int("clients", len(clients)).Float64("worst_drift", worst).
		Int("corrections", corrections).Msg("drift report")
}
