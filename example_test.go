package vthread_test

import (
	"context"
	"fmt"
	"time"

	"github.com/joeycumines/go-vthread"
	"github.com/joeycumines/go-vthread/carrier"
)

func ExampleGo() {
	pool, err := carrier.New(carrier.WithParallelism(2))
	if err != nil {
		panic(err)
	}
	defer pool.Shutdown(context.Background())

	results := make(chan string, 1)
	th, err := vthread.Go(func(t *vthread.Thread) {
		t.Park() // until unparked, below
		results <- fmt.Sprintf("resumed %s", t.Name())
	}, vthread.WithScheduler(pool), vthread.WithName("example"))
	if err != nil {
		panic(err)
	}

	for th.State() != vthread.StateWaiting {
		time.Sleep(time.Millisecond)
	}
	th.Unpark()

	if err := th.Join(context.Background()); err != nil {
		panic(err)
	}
	fmt.Println(<-results)
	fmt.Println(th.State())

	// Output:
	// resumed example
	// TERMINATED
}

func ExampleMonitor() {
	var (
		m     vthread.Monitor
		count int
	)
	c := vthread.NewContainer("workers")
	for i := 0; i < 10; i++ {
		th, err := vthread.New(func(t *vthread.Thread) {
			m.Lock()
			defer m.Unlock()
			count++
		})
		if err != nil {
			panic(err)
		}
		if err := th.StartIn(c); err != nil {
			panic(err)
		}
	}
	if err := c.Wait(context.Background()); err != nil {
		panic(err)
	}
	fmt.Println(count)

	// Output:
	// 10
}

func ExampleThread_Sleep() {
	th, err := vthread.Go(func(t *vthread.Thread) {
		start := time.Now()
		if err := t.Sleep(10 * time.Millisecond); err != nil {
			panic(err)
		}
		fmt.Println(time.Since(start) >= 10*time.Millisecond)
	})
	if err != nil {
		panic(err)
	}
	th.JoinTimeout(time.Second)

	// Output:
	// true
}
