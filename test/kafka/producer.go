// этот код не зависит от приложения,
// и нужен только для тестирования отправки заказа из оформления через кафку в orderapi
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

func main() {
	brokerAddress := flag.String("broker", "localhost:9092", "kafka broker address")
	topic := flag.String("topic", "orders", "checkout orders topic")
	orderID := flag.String("id", fmt.Sprintf("ord-%d", time.Now().Unix()), "order id")
	riderID := flag.String("rider", "rider-1", "assigned rider id, empty for none")
	flag.Parse()

	rider := "null"
	if *riderID != "" {
		rider = fmt.Sprintf(`{ "_id": %q, "email": "%s@zuvees.test", "name": "Test Rider", "role": "rider" }`, *riderID, *riderID)
	}

	// JSON-сообщение в том виде, в каком его публикует оформление заказа
	message := fmt.Sprintf(`{
           "_id": %q,
           "user": { "_id": "cust-1", "email": "customer@zuvees.test", "name": "Test Customer", "role": "customer" },
           "items": [
             { "product": { "_id": "prod-1", "name": "Rose Bouquet" }, "variant": { "color": "red", "size": "M", "price": 49.5 }, "quantity": 2, "price": 99 }
           ],
           "totalAmount": 99,
           "status": "paid",
           "shippingAddress": { "street": "12 Palm St", "city": "Dubai", "state": "Dubai", "country": "AE", "zipCode": "00000" },
           "rider": %s,
           "paymentStatus": "completed"
        }`, *orderID, rider)

	// настройки писателя (producer-а)
	writer := &kafka.Writer{
		Addr:     kafka.TCP(*brokerAddress),
		Topic:    *topic,
		Balancer: &kafka.LeastBytes{},
	}
	defer writer.Close()

	log.Println("Sending order to Kafka...")
	err := writer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(*orderID),
			Value: []byte(message),
		},
	)
	if err != nil {
		log.Fatalf("Failed to write message: %v", err)
	}
	fmt.Printf("Order %s sent successfully!\n", *orderID)
}
