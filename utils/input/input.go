package input

import (
	"context"
	"errors"
	"fmt"

	"git.fiblab.net/general/common/v2/cache"
	"git.fiblab.net/general/common/v2/mongoutil"
	"git.fiblab.net/general/common/v2/protoutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/utils/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"google.golang.org/protobuf/proto"
)

// Input 输入数据
// 功能：存储仿真所需的地图与人员数据
type Input struct {
	Map     *mapv2.Map
	Persons *personv2.Persons
}

// Init 下载数据
// 功能：根据配置加载地图与人员
// 参数：config-配置对象，cacheDir-缓存目录
// 返回：加载完成的输入数据指针，错误信息
// 算法说明：
// 1. 缓存检查：验证缓存目录的有效性
// 2. 数据库连接：如果配置了MongoDB则建立连接
// 3. 地图数据加载：文件优先，否则从MongoDB加载
// 4. 人员数据加载：支持单个或多个文件，否则从MongoDB加载
// 5. 数据验证：丢弃非驾车出行或位置不在行车道上的人员，拒绝重复ID
func Init(config config.Config, cacheDir string) (*Input, error) {
	useCache := preCheckCache(cacheDir)
	if !useCache {
		cacheDir = ""
	}

	var client *mongo.Client
	if config.Input.URI != "" {
		client = mongoutil.NewClient(config.Input.URI)
		defer client.Disconnect(context.Background())
	}

	res := &Input{
		Persons: &personv2.Persons{
			Persons: make([]*personv2.Person, 0),
		},
	}

	switch {
	case config.Input.Map.File != "":
		var m mapv2.Map
		if err := protoutil.UnmarshalFromFile(&m, config.Input.Map.File); err != nil {
			return nil, fmt.Errorf("failed to load map from file: %w", err)
		}
		res.Map = &m
	case len(config.Input.Map.Files) > 0:
		return nil, errors.New("multiple map files are not supported")
	default:
		m, err := load[mapv2.Map](client, config.Input.Map, cacheDir, nil)
		if err != nil {
			return nil, err
		}
		res.Map = m
	}

	ids := newMapIDs(res.Map)

	if p := config.Input.Person; p != nil {
		var raw []*personv2.Person
		switch {
		case p.File != "":
			var ps personv2.Persons
			if err := protoutil.UnmarshalFromFile(&ps, p.File); err != nil {
				return nil, fmt.Errorf("failed to load person from file: %w", err)
			}
			raw = ps.Persons
		case len(p.Files) > 0:
			for _, file := range p.Files {
				var ps personv2.Persons
				if err := protoutil.UnmarshalFromFile(&ps, file); err != nil {
					return nil, fmt.Errorf("failed to load person from file %s: %w", file, err)
				}
				raw = append(raw, ps.Persons...)
			}
		default:
			ps, err := load[personv2.Persons](client, *p, cacheDir, func(className string, pb any, rawBson bson.Raw) error {
				return validatePerson(pb.(*personv2.Person), ids)
			})
			if err != nil {
				return nil, err
			}
			raw = ps.Persons
		}
		persons, err := filterPersons(raw, ids)
		if err != nil {
			return nil, err
		}
		res.Persons.Persons = persons
		if len(persons) == 0 {
			log.Error("no valid persons to simulate")
		}
	}
	return res, nil
}

// filterPersons 丢弃不合法的人员并检查ID唯一性
func filterPersons(persons []*personv2.Person, ids mapIDs) ([]*personv2.Person, error) {
	valid := lo.Filter(persons, func(p *personv2.Person, _ int) bool {
		if err := validatePerson(p, ids); err != nil {
			log.Warn(err)
			return false
		}
		return true
	})
	if dup := lo.FindDuplicatesBy(valid, func(p *personv2.Person) int32 { return p.Id }); len(dup) > 0 {
		return nil, fmt.Errorf("persons have duplicated ids %d, please check data", dup[0].Id)
	}
	return valid, nil
}

// load 从MongoDB或缓存中加载数据（泛型函数）
// 参数：client-MongoDB客户端，inputPath-输入路径配置，cacheDir-缓存目录，handler-数据处理函数，opts-查询选项
// 返回：加载的数据对象，错误信息
func load[T any, PT interface {
	proto.Message
	*T
}](
	client *mongo.Client,
	inputPath config.InputPath,
	cacheDir string,
	handler func(className string, pb any, rawBson bson.Raw) error,
	opts ...*options.FindOptions,
) (PT, error) {
	var downloadFunc func() PT
	if !inputPath.OnlyCache {
		if client == nil {
			return nil, fmt.Errorf("no mongodb uri for %s.%s", inputPath.DB, inputPath.Col)
		}
		coll := mongoutil.GetMongoColl(client, inputPath)
		downloadFunc = func() PT {
			pb, errs := mongoutil.DownloadPbFromMongo[T, PT](context.Background(), coll, nil, handler, opts...)
			for _, err := range errs {
				log.Warnf("download: %v", err)
			}
			return pb
		}
	}
	log.Infof("start fetching from %s.%s", inputPath.DB, inputPath.Col)
	res, err := cache.LoadWithCache(cacheDir, inputPath, downloadFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to load with cache: %w", err)
	}
	log.Infof("finish fetching from %s.%s", inputPath.DB, inputPath.Col)
	return res, nil
}
