package mapper

import (
	"encoding/json"
	"fmt"

	"podcast-research-sync/internal/entity"
	"podcast-research-sync/internal/model"

	"gorm.io/datatypes"
)

type ResearchSessionMapper struct{}

func NewResearchSessionMapper() *ResearchSessionMapper {
	return &ResearchSessionMapper{}
}

func (m *ResearchSessionMapper) SessionToModel(s *entity.RemoteSession) (*model.ResearchSession, error) {
	if s == nil {
		return nil, nil
	}

	pineconeIds, err := toJSON(nonNilIds(s.PineconeIds))
	if err != nil {
		return nil, fmt.Errorf("encode pinecone ids: %w", err)
	}
	items, err := toJSON(nonNilItems(s.Items))
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	lastItem, err := toOptionalJSON(s.LastItemMetadata, s.LastItemMetadata == nil)
	if err != nil {
		return nil, fmt.Errorf("encode last item metadata: %w", err)
	}
	coords, err := toOptionalJSON(s.CoordinatesById, len(s.CoordinatesById) == 0)
	if err != nil {
		return nil, fmt.Errorf("encode coordinates: %w", err)
	}

	return &model.ResearchSession{
		Id:               s.Id,
		OwnerType:        string(s.OwnerType),
		OwnerId:          s.OwnerId,
		PineconeIds:      pineconeIds,
		Items:            items,
		LastItemMetadata: lastItem,
		CoordinatesById:  coords,
		Version:          s.Version,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}, nil
}

func (m *ResearchSessionMapper) SessionToEntity(rs *model.ResearchSession) (*entity.RemoteSession, error) {
	if rs == nil {
		return nil, nil
	}

	s := &entity.RemoteSession{
		Id:        rs.Id,
		OwnerType: entity.OwnerType(rs.OwnerType),
		OwnerId:   rs.OwnerId,
		Version:   rs.Version,
		CreatedAt: rs.CreatedAt,
		UpdatedAt: rs.UpdatedAt,
	}
	if err := fromJSON(rs.PineconeIds, &s.PineconeIds); err != nil {
		return nil, fmt.Errorf("decode pinecone ids: %w", err)
	}
	if err := fromJSON(rs.Items, &s.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if len(rs.LastItemMetadata) > 0 {
		s.LastItemMetadata = &entity.ItemMetadata{}
		if err := fromJSON(rs.LastItemMetadata, s.LastItemMetadata); err != nil {
			return nil, fmt.Errorf("decode last item metadata: %w", err)
		}
	}
	if err := fromJSON(rs.CoordinatesById, &s.CoordinatesById); err != nil {
		return nil, fmt.Errorf("decode coordinates: %w", err)
	}
	return s, nil
}

func (m *ResearchSessionMapper) ShareToModel(s *entity.ShareSnapshot) (*model.ResearchShare, error) {
	nodes, err := toJSON(s.Nodes)
	if err != nil {
		return nil, fmt.Errorf("encode nodes: %w", err)
	}
	camera, err := toOptionalJSON(s.Camera, s.Camera == nil)
	if err != nil {
		return nil, fmt.Errorf("encode camera: %w", err)
	}
	items, err := toJSON(nonNilItems(s.Items))
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}

	return &model.ResearchShare{
		Id:              s.Id,
		SessionId:       s.SessionId,
		Title:           s.Title,
		Visibility:      string(s.Visibility),
		Nodes:           nodes,
		Camera:          camera,
		Items:           items,
		PreviewImageURL: s.PreviewImageURL,
		CreatedAt:       s.CreatedAt,
	}, nil
}

func (m *ResearchSessionMapper) ShareToEntity(rs *model.ResearchShare) (*entity.ShareSnapshot, error) {
	s := &entity.ShareSnapshot{
		Id:              rs.Id,
		SessionId:       rs.SessionId,
		Title:           rs.Title,
		Visibility:      entity.ShareVisibility(rs.Visibility),
		PreviewImageURL: rs.PreviewImageURL,
		CreatedAt:       rs.CreatedAt,
	}
	if err := fromJSON(rs.Nodes, &s.Nodes); err != nil {
		return nil, fmt.Errorf("decode nodes: %w", err)
	}
	if len(rs.Camera) > 0 {
		s.Camera = &entity.CameraState{}
		if err := fromJSON(rs.Camera, s.Camera); err != nil {
			return nil, fmt.Errorf("decode camera: %w", err)
		}
	}
	if err := fromJSON(rs.Items, &s.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return s, nil
}

func toJSON(v interface{}) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func toOptionalJSON(v interface{}, empty bool) (datatypes.JSON, error) {
	if empty {
		return nil, nil
	}
	return toJSON(v)
}

func fromJSON(data datatypes.JSON, out interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func nonNilIds(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func nonNilItems(items []entity.SessionItem) []entity.SessionItem {
	if items == nil {
		return []entity.SessionItem{}
	}
	return items
}
