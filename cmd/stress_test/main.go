package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/order-pipeline/internal/adapter/storage"
	"github.com/rl1809/order-pipeline/internal/core/domain"
	"github.com/rl1809/order-pipeline/internal/core/service"
)

const (
	initialStock  = 20
	totalRequests = 50
)

func main() {
	if err := run(); err != nil {
		log.Printf("FAIL: %v", err)
		os.Exit(1)
	}
	log.Println("PASS")
}

func run() error {
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.DBConfig{Driver: storage.DialectSQLite, DSN: ":memory:"})
	if err != nil {
		return err
	}
	defer db.Close()

	adapter := storage.NewSQLAdapter(db)
	product := domain.Product{
		ID:       uuid.New(),
		Title:    "limited-edition",
		Price:    decimal.RequireFromString("199.90"),
		Stock:    initialStock,
		SellerID: uuid.New(),
	}
	if err := adapter.SaveProducts(ctx, []domain.Product{product}); err != nil {
		return fmt.Errorf("seed product: %w", err)
	}
	log.Printf("initialized stock: %s = %d", product.ID, initialStock)

	logger := zap.NewNop()
	orderService := service.NewOrderService(adapter, adapter, nil, logger)
	processor := service.NewOrdersProcessor(orderService, nil,
		service.ProcessorConfig{Enabled: true}, logger, nil, nil)

	// Every request passes the creation check: stock is only taken when
	// the processor moves the order to PROCESSING.
	var (
		wg           sync.WaitGroup
		createdCount atomic.Int32
		failCount    atomic.Int32
	)
	start := time.Now()
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := orderService.Create(ctx, service.CreateOrderRequest{
				BuyerID: uuid.New(),
				Items:   []service.CreateOrderItem{{ProductID: product.ID, Quantity: 1}},
			}, "")
			if err != nil {
				failCount.Add(1)
				return
			}
			createdCount.Add(1)
		}()
	}
	wg.Wait()
	log.Printf("created %d orders (%d failed) in %v", createdCount.Load(), failCount.Load(), time.Since(start))

	res := processor.Tick(ctx)
	log.Printf("tick: loaded=%d advanced=%d cancelled=%d failed=%d",
		res.Loaded, res.Advanced, res.Cancelled, res.Failed)

	orders, err := orderService.FindAllOrders(ctx)
	if err != nil {
		return err
	}
	counts := make(map[domain.OrderStatus]int)
	for _, o := range orders {
		counts[o.Status]++
	}

	products, err := adapter.FindProductsByIDs(ctx, []uuid.UUID{product.ID})
	if err != nil {
		return err
	}
	if len(products) != 1 {
		return fmt.Errorf("product %s missing", product.ID)
	}
	stock := products[0].Stock

	fmt.Println("========================================")
	fmt.Printf("Initial Stock:   %d\n", initialStock)
	fmt.Printf("Total Orders:    %d\n", len(orders))
	fmt.Printf("Processing:      %d\n", counts[domain.OrderStatusProcessing])
	fmt.Printf("Cancelled:       %d\n", counts[domain.OrderStatusCancelled])
	fmt.Printf("Remaining Stock: %d\n", stock)
	fmt.Println("========================================")

	switch {
	case createdCount.Load() != totalRequests:
		return fmt.Errorf("expected %d orders created, got %d", totalRequests, createdCount.Load())
	case counts[domain.OrderStatusProcessing] != initialStock:
		return fmt.Errorf("expected %d orders processing, got %d", initialStock, counts[domain.OrderStatusProcessing])
	case counts[domain.OrderStatusCancelled] != totalRequests-initialStock:
		return fmt.Errorf("expected %d orders cancelled, got %d", totalRequests-initialStock, counts[domain.OrderStatusCancelled])
	case stock != 0:
		return fmt.Errorf("expected stock 0, got %d", stock)
	}
	return nil
}
