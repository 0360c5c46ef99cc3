package kafka

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/brndland/brndvote/config"
	"github.com/brndland/brndvote/internal/model"
)

// Consumer 生命周期事件消费者，把事件流落到日志仓库
type Consumer struct {
	readers    []*kafka.Reader
	ctx        context.Context
	cancel     context.CancelFunc
	numWorkers int
	wg         sync.WaitGroup
}

type EventHandler func(event *model.LifecycleEvent) error

func NewConsumer() (*Consumer, error) {
	ctx, cancel := context.WithCancel(context.Background())
	numWorkers := 8

	// 获取Kafka主题的分区数量
	conn, err := kafka.DialLeader(ctx, "tcp", config.AppConfig.Kafka.Brokers[0], config.AppConfig.Kafka.Topic, 0)
	if err != nil {
		cancel()
		return nil, err
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		cancel()
		return nil, err
	}

	var topicPartitions []int
	for _, p := range partitions {
		if p.Topic == config.AppConfig.Kafka.Topic {
			topicPartitions = append(topicPartitions, p.ID)
		}
	}

	log.Printf("检测到Kafka主题 %s 有 %d 个分区", config.AppConfig.Kafka.Topic, len(topicPartitions))

	// 每个工作线程处理自己的特定分区，分区内事件天然有序
	if len(topicPartitions) < numWorkers {
		numWorkers = len(topicPartitions)
	}

	readers := make([]*kafka.Reader, 0, numWorkers)
	for i := 0; i < numWorkers; i++ {
		partition := topicPartitions[i%len(topicPartitions)]
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:   config.AppConfig.Kafka.Brokers,
			Topic:     config.AppConfig.Kafka.Topic,
			Partition: partition,
			MinBytes:  10e3, // 10KB
			MaxBytes:  10e6, // 10MB
		})
		readers = append(readers, reader)
		log.Printf("消费者工作线程 #%d 将处理分区: %d", i, partition)
	}

	// 分区不可用时退到消费者组模式
	if len(readers) == 0 {
		log.Printf("未检测到分区，将使用消费者组模式")
		groupReader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  config.AppConfig.Kafka.Brokers,
			Topic:    config.AppConfig.Kafka.Topic,
			GroupID:  config.AppConfig.Kafka.GroupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		})
		readers = append(readers, groupReader)
		numWorkers = 1
	}

	return &Consumer{
		readers:    readers,
		ctx:        ctx,
		cancel:     cancel,
		numWorkers: numWorkers,
	}, nil
}

// StartConsuming 开始消费事件流，多goroutine并发
func (c *Consumer) StartConsuming(handler EventHandler) {
	for i, reader := range c.readers {
		if reader == nil {
			continue
		}
		c.wg.Add(1)
		go func(workerID int, r *kafka.Reader) {
			defer c.wg.Done()
			c.consume(workerID, r, handler)
		}(i, reader)
	}

	log.Printf("已启动 %d 个生命周期事件消费线程", len(c.readers))
}

func (c *Consumer) consume(workerID int, reader *kafka.Reader, handler EventHandler) {
	for {
		select {
		case <-c.ctx.Done():
			log.Printf("消费线程 #%d 收到停止信号", workerID)
			return
		default:
			m, err := reader.ReadMessage(c.ctx)
			if err != nil {
				if err == context.Canceled {
					return
				}
				log.Printf("消费线程 #%d 读取消息失败: %v", workerID, err)
				time.Sleep(time.Second)
				continue
			}

			var event model.LifecycleEvent
			if err := json.Unmarshal(m.Value, &event); err != nil {
				log.Printf("消费线程 #%d 解析事件失败: %v", workerID, err)
				continue
			}

			if err := handler(&event); err != nil {
				log.Printf("消费线程 #%d 处理事件失败: %v", workerID, err)
			}
		}
	}
}

// Stop 停止消费
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	for i, reader := range c.readers {
		if reader != nil {
			if err := reader.Close(); err != nil {
				log.Printf("关闭消费者 #%d 失败: %v", i, err)
			}
		}
	}

	log.Println("所有生命周期事件消费线程已停止")
	return nil
}
