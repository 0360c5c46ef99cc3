package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/brndland/brndvote/config"
	"github.com/brndland/brndvote/internal/api/graph"
	"github.com/brndland/brndvote/internal/gateway"
	intkafka "github.com/brndland/brndvote/internal/kafka"
	"github.com/brndland/brndvote/internal/lock"
	"github.com/brndland/brndvote/internal/model"
	"github.com/brndland/brndvote/internal/repository"
	"github.com/brndland/brndvote/internal/service"
	"github.com/brndland/brndvote/internal/session"
)

var (
	configPath = flag.String("config", "config/config.yaml", "配置文件路径")
	instanceID = flag.Int("instance", 1, "实例ID，用于区分多个实例")
)

func main() {
	// 解析命令行参数
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("配置加载成功，当前实例ID: %d", *instanceID)

	// 创建生命周期日志仓库
	mysqlRepo, err := repository.NewMySQLRepository()
	if err != nil {
		log.Fatalf("初始化MySQL仓库失败: %v", err)
	}
	defer mysqlRepo.Close()
	log.Printf("MySQL仓库初始化成功")

	// 创建Redis辅助缓存
	redisRepo, err := repository.NewRedisRepository()
	if err != nil {
		log.Fatalf("初始化Redis仓库失败: %v", err)
	}
	defer redisRepo.Close()
	log.Printf("Redis仓库初始化成功")

	// 创建分布式锁（跨实例的用户在飞操作守卫）
	// 投票走etcd锁，领奖走Redlock，两条编排链路互不干扰
	voteLock, err := lock.NewETCDLock()
	if err != nil {
		log.Fatalf("初始化ETCD分布式锁失败: %v", err)
	}
	defer voteLock.Close()
	log.Printf("ETCD分布式锁初始化成功")

	claimLock, err := lock.NewRedLock()
	if err != nil {
		log.Fatalf("初始化Redis分布式锁失败: %v", err)
	}
	defer claimLock.Close()
	log.Printf("Redis分布式锁初始化成功")

	// 创建Kafka生产者
	producer, err := intkafka.NewProducer()
	if err != nil {
		log.Fatalf("初始化Kafka生产者失败: %v", err)
	}
	defer producer.Close()
	log.Printf("Kafka生产者初始化成功")

	// 创建Kafka消费者
	consumer, err := intkafka.NewConsumer()
	if err != nil {
		log.Fatalf("初始化Kafka消费者失败: %v", err)
	}
	defer consumer.Stop()
	log.Printf("Kafka消费者初始化成功")

	// 创建三个网关
	backend := gateway.NewHTTPBackend()
	chain, err := gateway.NewEthereumGateway()
	if err != nil {
		log.Fatalf("初始化链上网关失败: %v", err)
	}
	social := gateway.NewFarcasterPublisher()
	log.Printf("后端/链上/社交网关初始化成功，钱包已连接: %v", chain.Connected())

	// 创建会话管理器
	sessions := session.NewManager(backend, redisRepo)

	// 创建三个编排器
	voteOrchestrator := service.NewVoteOrchestrator(backend, chain, sessions, producer, voteLock)
	shareOrchestrator := service.NewShareOrchestrator(backend, chain, social, sessions, producer)
	claimOrchestrator := service.NewClaimOrchestrator(chain, shareOrchestrator, sessions, producer, claimLock)
	log.Printf("投票/分享/领奖编排器初始化成功")

	// 启动Kafka消费者，把已确认的生命周期事件落到日志仓库
	consumer.StartConsuming(func(event *model.LifecycleEvent) error {
		return mysqlRepo.AppendEvent(&model.JournalEntry{
			FID:             event.FID,
			Day:             event.Day,
			EventType:       event.Type,
			TransactionHash: event.TransactionHash,
			CastHash:        event.CastHash,
			RewardAmount:    event.RewardAmount,
		})
	})
	log.Printf("Kafka消费者已启动")

	// 创建GraphQL服务
	graphqlServer := graph.NewGraphQLServer(
		voteOrchestrator, shareOrchestrator, claimOrchestrator,
		sessions, backend, chain, redisRepo, mysqlRepo,
	)
	log.Printf("GraphQL服务初始化成功")

	// 计算端口，支持多实例
	serverPort := cfg.Server.Port + *instanceID - 1

	// 启动HTTP服务器(异步)
	go func() {
		if err := graphqlServer.Start(serverPort); err != nil {
			log.Fatalf("启动GraphQL服务器失败: %v", err)
		}
	}()

	log.Printf("BRND Vote 系统 (实例 %d) 已启动，服务地址: http://localhost:%d", *instanceID, serverPort)

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭服务...")
}
