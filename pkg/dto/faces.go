package dto

import "github.com/your-org/facegroups/internal/models"

type FaceGroup struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	ImageIDs []int64 `json:"image_ids"`
}

type GroupsResponse struct {
	Groups []FaceGroup `json:"groups"`
}

func NewGroupsResponse(groups []models.Group) GroupsResponse {
	resp := GroupsResponse{Groups: make([]FaceGroup, 0, len(groups))}
	for _, g := range groups {
		resp.Groups = append(resp.Groups, NewFaceGroup(g.ClusterID, g.Name, g.ImageIDs))
	}
	return resp
}

func NewFaceGroup(id int64, name string, imageIDs []int64) FaceGroup {
	if imageIDs == nil {
		imageIDs = []int64{}
	}
	return FaceGroup{ID: id, Name: models.DisplayName(name), ImageIDs: imageIDs}
}

type RenameClusterRequest struct {
	Name string `json:"name"`
}

type ClusterResponse struct {
	Message     string `json:"message"`
	Embeddings  int    `json:"embeddings"`
	Matched     int    `json:"matched"`
	NewClusters int    `json:"new_clusters"`
}

type RebuildResponse struct {
	Message  string `json:"message"`
	Clusters int    `json:"clusters"`
	Images   int    `json:"images"`
	Faces    int    `json:"faces"`
}
