package health

import (
	"context"
	"time"

	"github.com/unclewu3242592726/CosTalk/callbridge/internal/svc"
	"github.com/unclewu3242592726/CosTalk/callbridge/internal/types"

	"github.com/zeromicro/go-zero/core/logx"
)

type HealthLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewHealthLogic(ctx context.Context, svcCtx *svc.ServiceContext) *HealthLogic {
	return &HealthLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *HealthLogic) Health() (resp *types.HealthResponse, err error) {
	return &types.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Unix(),
		Providers: len(l.svcCtx.Registry.GetAllProviders()),
		Knowledge: l.svcCtx.Retriever != nil,
	}, nil
}
